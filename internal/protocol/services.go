package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ServiceID is the QMUX service byte.
type ServiceID uint8

const (
	ServiceControl ServiceID = 0
	ServiceWDS     ServiceID = 1
	ServiceDMS     ServiceID = 2
	ServiceNAS     ServiceID = 3
	ServiceQOS     ServiceID = 4
	ServiceWMS     ServiceID = 5
	ServicePDS     ServiceID = 6
	ServiceAuth    ServiceID = 7
	ServiceAT      ServiceID = 8
	ServiceVoice   ServiceID = 9
	ServiceCAT2    ServiceID = 10
	ServiceUIM     ServiceID = 11
	ServicePBM     ServiceID = 12
	ServiceTest    ServiceID = 15
	ServiceLOC     ServiceID = 16
	ServiceSAR     ServiceID = 17
	ServiceIMS     ServiceID = 18
	ServiceADC     ServiceID = 19
	ServiceCSD     ServiceID = 20
	ServiceTime    ServiceID = 22
	ServiceTS      ServiceID = 23
	ServiceTMD     ServiceID = 24
	ServiceWDA     ServiceID = 26
	ServiceCSVT    ServiceID = 29
	ServiceQCMAP   ServiceID = 30
	ServiceIMSP    ServiceID = 31
	ServiceIMSVT   ServiceID = 32
	ServiceIMSA    ServiceID = 33
	ServiceCOEX    ServiceID = 34
	ServicePDC     ServiceID = 36
	ServiceRFRPE   ServiceID = 41
	ServiceDSD     ServiceID = 42
	ServiceSSCTL   ServiceID = 43

	// ServiceUnknown is returned for buffers too short to carry a service byte.
	ServiceUnknown ServiceID = 0xff
)

var serviceNames = map[ServiceID]string{
	ServiceControl: "CTL",
	ServiceWDS:     "WDS",
	ServiceDMS:     "DMS",
	ServiceNAS:     "NAS",
	ServiceQOS:     "QOS",
	ServiceWMS:     "WMS",
	ServicePDS:     "PDS",
	ServiceAuth:    "AUTH",
	ServiceAT:      "AT",
	ServiceVoice:   "VOICE",
	ServiceCAT2:    "CAT2",
	ServiceUIM:     "UIM",
	ServicePBM:     "PBM",
	ServiceTest:    "TEST",
	ServiceLOC:     "LOC",
	ServiceSAR:     "SAR",
	ServiceIMS:     "IMS",
	ServiceADC:     "ADC",
	ServiceCSD:     "CSD",
	ServiceTime:    "TIME",
	ServiceTS:      "TS",
	ServiceTMD:     "TMD",
	ServiceWDA:     "WDA",
	ServiceCSVT:    "CSVT",
	ServiceQCMAP:   "QCMAP",
	ServiceIMSP:    "IMSP",
	ServiceIMSVT:   "IMSVT",
	ServiceIMSA:    "IMSA",
	ServiceCOEX:    "COEX",
	ServicePDC:     "PDC",
	ServiceRFRPE:   "RFRPE",
	ServiceDSD:     "DSD",
	ServiceSSCTL:   "SSCTL",
}

// Known reports whether s is in the service table.
func (s ServiceID) Known() bool {
	_, ok := serviceNames[s]
	return ok
}

func (s ServiceID) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SVC_0x%02x", uint8(s))
}

// ParseServiceID accepts a service name ("wms") or a decimal or 0x-prefixed
// number.
func ParseServiceID(raw string) (ServiceID, error) {
	raw = strings.TrimSpace(raw)
	for id, name := range serviceNames {
		if strings.EqualFold(name, raw) {
			return id, nil
		}
	}
	n, err := strconv.ParseUint(raw, 0, 8)
	if err != nil {
		return ServiceUnknown, fmt.Errorf("protocol: unknown service %q", raw)
	}
	return ServiceID(n), nil
}
