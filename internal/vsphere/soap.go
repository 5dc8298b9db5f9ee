package vsphere

import (
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
)

// vSAN internal methods are not part of the public vim25 bindings; the
// request and response bodies below follow the layout of the generated
// govmomi methods package.

const (
	hostVsanPath      = "/vsan"
	hostVsanNamespace = "urn:vim25"
	hostVsanVersion   = "6.0"
)

var (
	perfManagerRef = types.ManagedObjectReference{Type: "VsanPerformanceManager", Value: "vsan-performance-manager"}
	statsProvider  = types.ManagedObjectReference{Type: "VsanInternalStatsProvider", Value: "vsan-internal-statsprovider"}
)

type fetchVsanSharedSecretRequest struct {
	This types.ManagedObjectReference `xml:"_this"`
}

type fetchVsanSharedSecretResponse struct {
	Returnval string `xml:"returnval"`
}

type fetchVsanSharedSecretBody struct {
	Req    *fetchVsanSharedSecretRequest  `xml:"urn:vim25 FetchVsanSharedSecret,omitempty"`
	Res    *fetchVsanSharedSecretResponse `xml:"urn:vim25 FetchVsanSharedSecretResponse,omitempty"`
	Fault_ *soap.Fault                    `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault,omitempty"`
}

func (b *fetchVsanSharedSecretBody) Fault() *soap.Fault { return b.Fault_ }

type vsanPerfLoginRequest struct {
	This  types.ManagedObjectReference `xml:"_this"`
	Token string                       `xml:"token"`
}

type vsanPerfLoginResponse struct {
	Returnval bool `xml:"returnval"`
}

type vsanPerfLoginBody struct {
	Req    *vsanPerfLoginRequest  `xml:"urn:vim25 VsanPerfLogin,omitempty"`
	Res    *vsanPerfLoginResponse `xml:"urn:vim25 VsanPerfLoginResponse,omitempty"`
	Fault_ *soap.Fault            `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault,omitempty"`
}

func (b *vsanPerfLoginBody) Fault() *soap.Fault { return b.Fault_ }

type captureInternalStatsRequest struct {
	This types.ManagedObjectReference `xml:"_this"`
}

type captureInternalStatsResponse struct {
	Returnval string `xml:"returnval"`
}

type captureInternalStatsBody struct {
	Req    *captureInternalStatsRequest  `xml:"urn:vim25 CaptureInternalStats,omitempty"`
	Res    *captureInternalStatsResponse `xml:"urn:vim25 CaptureInternalStatsResponse,omitempty"`
	Fault_ *soap.Fault                   `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault,omitempty"`
}

func (b *captureInternalStatsBody) Fault() *soap.Fault { return b.Fault_ }

func isFault[T any](err error) bool {
	if err == nil || !soap.IsSoapFault(err) {
		return false
	}
	switch soap.ToSoapFault(err).VimFault().(type) {
	case T, *T:
		return true
	}
	return false
}
