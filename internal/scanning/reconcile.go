package scanning

// Reconcile turns a parsed scan result into service records. Only open ports
// are reported. A web service yields one record per path hint, in hint order;
// any other service, or a web service without hints, yields a single record
// with an empty application root. Records follow host then port document order.
// The result is never nil, so an empty report encodes as an empty list.
func Reconcile(target Target, result *RawScanResult, hints []string, classify Classifier) []ServiceRecord {
	records := []ServiceRecord{}
	if result == nil {
		return records
	}
	if classify == nil {
		classify = IsWebService
	}

	for _, host := range result.Hosts {
		address := host.IP()
		if address == "" {
			address = target.Host
		}
		hostname := ""
		if len(host.Hostnames) > 0 {
			hostname = host.Hostnames[0]
		} else if target.IsHostname() {
			hostname = target.Host
		}

		for _, port := range host.OpenPorts() {
			base := ServiceRecord{
				Address:     address,
				Hostname:    hostname,
				Port:        port.Number,
				Protocol:    port.Protocol,
				ServiceName: port.ServiceName,
				Product:     port.Product,
				Version:     port.Version,
				Banner:      port.Banner,
			}

			if len(hints) == 0 || !classify(port.ServiceName) {
				records = append(records, base)
				continue
			}
			for _, root := range hints {
				rec := base
				rec.ApplicationRoot = root
				records = append(records, rec)
			}
		}
	}
	return records
}
