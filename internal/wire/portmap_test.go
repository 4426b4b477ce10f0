package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePortMap_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pm   PortMap
	}{
		{
			name: "empty map",
			pm:   PortMap{},
		},
		{
			name: "single tcp mapping with default local ip",
			pm: PortMap{
				{PortRemote: 80, PortLocal: 9000, PortType: TCP, TunnelType: TCP},
			},
		},
		{
			name: "mixed transports and explicit local ip",
			pm: PortMap{
				{PortRemote: 80, PortLocal: 9000, LocalIP: "127.0.0.1", PortType: TCP, TunnelType: TCP},
				{PortRemote: 7000, PortLocal: 7001, LocalIP: "10.0.0.5", PortType: UDP, TunnelType: UDP},
				{PortRemote: 81, PortLocal: 9001, PortType: TCP, TunnelType: UDP},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodePortMap(tt.pm)
			got, err := DecodePortMap(encoded)
			if err != nil {
				t.Fatalf("DecodePortMap() error = %v", err)
			}
			if len(got) != len(tt.pm) {
				t.Fatalf("DecodePortMap() returned %d mappings, want %d", len(got), len(tt.pm))
			}
			for i := range tt.pm {
				want := tt.pm[i]
				want.LocalIP = want.EffectiveLocalIP()
				if got[i] != want {
					t.Errorf("mapping[%d] = %+v, want %+v", i, got[i], want)
				}
			}
		})
	}
}

func TestDecodePortMap_Truncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty input", data: []byte{}},
		{name: "count only, no mappings", data: []byte{0x00, 0x01}},
		{name: "truncated mid-string", data: []byte{0x00, 0x01, 0x00, 0x50, 0x23, 0x28, 0x00, 0x03, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePortMap(tt.data); err == nil {
				t.Fatal("DecodePortMap() error = nil, want non-nil")
			}
		})
	}
}

func TestPortMap_Validate(t *testing.T) {
	ok := PortMap{
		{PortRemote: 80, PortType: TCP, TunnelType: TCP},
		{PortRemote: 81, PortType: TCP, TunnelType: TCP},
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	dup := PortMap{
		{PortRemote: 80, PortType: TCP, TunnelType: TCP},
		{PortRemote: 80, PortType: UDP, TunnelType: TCP},
	}
	if err := dup.Validate(); err != ErrDuplicateRemotePort {
		t.Errorf("Validate() error = %v, want ErrDuplicateRemotePort", err)
	}
}

func TestPortMap_Lookup(t *testing.T) {
	pm := PortMap{
		{PortRemote: 80, PortLocal: 9000, PortType: TCP, TunnelType: TCP},
		{PortRemote: 81, PortLocal: 9001, PortType: UDP, TunnelType: UDP},
	}

	got, ok := pm.Lookup(81)
	if !ok {
		t.Fatal("Lookup(81) ok = false, want true")
	}
	if got.PortLocal != 9001 {
		t.Errorf("Lookup(81).PortLocal = %d, want 9001", got.PortLocal)
	}

	if _, ok := pm.Lookup(9999); ok {
		t.Error("Lookup(9999) ok = true, want false")
	}
}

func TestHeader_ReadWriteRoundTrip(t *testing.T) {
	var code Code
	copy(code[:], []byte("0123456789abcdef"))

	tests := []struct {
		name       string
		portRemote uint16
	}{
		{name: "publish frame", portRemote: 0},
		{name: "tunnel dial-back frame", portRemote: 8443},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			want := Header{PortRemote: tt.portRemote, Code: code}
			if err := WriteHeader(&buf, want); err != nil {
				t.Fatalf("WriteHeader() error = %v", err)
			}
			if buf.Len() != HeaderSize {
				t.Fatalf("WriteHeader() wrote %d bytes, want %d", buf.Len(), HeaderSize)
			}
			got, err := ReadHeader(&buf)
			if err != nil {
				t.Fatalf("ReadHeader() error = %v", err)
			}
			if got != want {
				t.Errorf("ReadHeader() = %+v, want %+v", got, want)
			}
			if got.IsPublish() != (tt.portRemote == 0) {
				t.Errorf("IsPublish() = %v, want %v", got.IsPublish(), tt.portRemote == 0)
			}
		})
	}
}

func TestReadHeader_ShortHeader(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, 0x01, 0x02})
	if _, err := ReadHeader(buf); err != ErrShortHeader {
		t.Errorf("ReadHeader() error = %v, want ErrShortHeader", err)
	}
}

func TestPublishFrame_RoundTrip(t *testing.T) {
	var code Code
	copy(code[:], []byte("fedcba9876543210"))
	pm := PortMap{
		{PortRemote: 80, PortLocal: 9000, PortType: TCP, TunnelType: TCP},
	}

	var buf bytes.Buffer
	if err := WritePublishFrame(&buf, code, pm); err != nil {
		t.Fatalf("WritePublishFrame() error = %v", err)
	}

	hdr, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if !hdr.IsPublish() {
		t.Fatal("IsPublish() = false, want true")
	}
	if hdr.Code != code {
		t.Errorf("hdr.Code = %v, want %v", hdr.Code, code)
	}

	got, err := ReadPublishBody(&buf)
	if err != nil {
		t.Fatalf("ReadPublishBody() error = %v", err)
	}
	if len(got) != 1 || got[0].PortRemote != 80 {
		t.Errorf("ReadPublishBody() = %+v, want one mapping with PortRemote 80", got)
	}
}

func TestPortNotification_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePortNotification(&buf, 443); err != nil {
		t.Fatalf("WritePortNotification() error = %v", err)
	}
	got, err := ReadPortNotification(&buf)
	if err != nil {
		t.Fatalf("ReadPortNotification() error = %v", err)
	}
	if got != 443 {
		t.Errorf("ReadPortNotification() = %d, want 443", got)
	}
}
