package rislive

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

func TestParseMessage_Announcement(t *testing.T) {
	// Real RIS Live message format
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.123,
			"peer": "2001:7f8:4::1b1b:1",
			"peer_asn": 6939,
			"host": "rrc00",
			"type": "UPDATE",
			"path": [6939, 3356, 13335],
			"announcements": [
				{"next_hop": "2001:7f8:4::1b1b:1", "prefixes": ["1.1.1.0/24", "1.0.0.0/24"]}
			]
		}
	}`)

	records, err := ParseMessage(msg, "unknown")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	rec := records[0]
	if rec.Type != models.ElemAnnounce {
		t.Errorf("Expected ANNOUNCE, got %s", rec.Type)
	}
	if rec.Prefix != "1.1.1.0/24" {
		t.Errorf("Expected prefix 1.1.1.0/24, got %s", rec.Prefix)
	}
	if records[1].Prefix != "1.0.0.0/24" {
		t.Errorf("Expected second prefix 1.0.0.0/24, got %s", records[1].Prefix)
	}
	if rec.PeerASN != 6939 {
		t.Errorf("Expected peer ASN 6939, got %d", rec.PeerASN)
	}
	if rec.PeerIP != "2001:7f8:4::1b1b:1" {
		t.Errorf("Expected peer 2001:7f8:4::1b1b:1, got %s", rec.PeerIP)
	}
	if rec.NextHop != "2001:7f8:4::1b1b:1" {
		t.Errorf("Expected next hop 2001:7f8:4::1b1b:1, got %s", rec.NextHop)
	}
	if rec.Collector != "rrc00" {
		t.Errorf("Expected collector rrc00 from host field, got %s", rec.Collector)
	}
	if rec.Timestamp != 1705320000.123 {
		t.Errorf("Expected timestamp 1705320000.123, got %f", rec.Timestamp)
	}
	if want := models.Sequence(6939, 3356, 13335); !reflect.DeepEqual(rec.ASPath, want) {
		t.Errorf("Expected AS path %v, got %v", want, rec.ASPath)
	}
}

func TestParseMessage_Withdrawal(t *testing.T) {
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.0,
			"peer": "192.0.2.1",
			"peer_asn": "6939",
			"withdrawals": ["192.0.2.0/24"]
		}
	}`)

	records, err := ParseMessage(msg, "rrc01")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.Prefix != "192.0.2.0/24" {
		t.Errorf("Expected prefix 192.0.2.0/24, got %s", rec.Prefix)
	}
	if rec.Type != models.ElemWithdraw {
		t.Errorf("Expected WITHDRAW, got %s", rec.Type)
	}
	if rec.ASPath != nil || rec.NextHop != "" {
		t.Errorf("Withdrawal should carry no path or next hop, got %v %q", rec.ASPath, rec.NextHop)
	}
	if rec.PeerASN != 6939 {
		t.Errorf("Expected peer ASN 6939, got %d", rec.PeerASN)
	}
	if rec.Collector != "rrc01" {
		t.Errorf("Expected collector rrc01, got %s", rec.Collector)
	}
}

func TestParseMessage_NonRISMessage(t *testing.T) {
	msg := []byte(`{"type": "ris_error", "data": {"message": "test"}}`)

	records, err := ParseMessage(msg, "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if records != nil {
		t.Error("Expected nil for non-ris_message type")
	}
}

func TestParseMessage_PeerState(t *testing.T) {
	msg := []byte(`{"type": "ris_message", "data": {"type": "RIS_PEER_STATE", "peer": "192.0.2.1", "state": "connected"}}`)

	records, err := ParseMessage(msg, "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records for peer state, got %d", len(records))
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte(`{not json`), "rrc00"); err == nil {
		t.Error("Expected error for malformed message")
	}
}

func TestParseMessage_NestedASPath(t *testing.T) {
	// AS path with AS_SET (nested array)
	msg := []byte(`{
		"type": "ris_message",
		"data": {
			"timestamp": 1705320000.0,
			"peer": "192.0.2.1",
			"peer_asn": 174,
			"path": [174, 1299, [3356, 7018], 13335],
			"announcements": [{"next_hop": "192.0.2.1", "prefixes": ["8.8.8.0/24"]}]
		}
	}`)

	records, err := ParseMessage(msg, "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	// Nested arrays are AS_SETs and stay separate segments
	want := []models.ASPathSegment{
		{ASNs: []uint32{174, 1299}},
		{Set: true, ASNs: []uint32{3356, 7018}},
		{ASNs: []uint32{13335}},
	}
	if got := records[0].ASPath; !reflect.DeepEqual(got, want) {
		t.Errorf("AS path = %+v, want %+v", got, want)
	}
}

func TestParseMessage_SetAndSequenceDiffer(t *testing.T) {
	base := `{"type": "ris_message", "data": {"timestamp": 1, "peer": "2.2.2.2", "peer_asn": 174, "path": %s,
		"announcements": [{"next_hop": "1.1.1.1", "prefixes": ["10.0.0.0/24"]}]}}`

	seq, err := ParseMessage([]byte(fmt.Sprintf(base, "[174, 3356, 65001]")), "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	set, err := ParseMessage([]byte(fmt.Sprintf(base, "[174, [3356, 65001]]")), "rrc00")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if reflect.DeepEqual(seq[0].ASPath, set[0].ASPath) {
		t.Errorf("AS_SEQUENCE and AS_SET paths parsed identically: %+v", set[0].ASPath)
	}
	if !set[0].ASPath[1].Set {
		t.Errorf("Expected second segment to be a set, got %+v", set[0].ASPath)
	}
}

func TestParseMessage_BadPathElement(t *testing.T) {
	msg := []byte(`{"type": "ris_message", "data": {"peer": "2.2.2.2", "path": [174, "x"],
		"announcements": [{"next_hop": "1.1.1.1", "prefixes": ["10.0.0.0/24"]}]}}`)
	if _, err := ParseMessage(msg, "rrc00"); err == nil {
		t.Error("Expected error for non-numeric path element")
	}
}

func TestParseUpdate_BareData(t *testing.T) {
	data := []byte(`{"timestamp": 1.5, "peer": "192.0.2.1", "peer_asn": 64496, "path": [64496], "announcements": [{"next_hop": "192.0.2.1", "prefixes": ["203.0.113.0/24"]}]}`)

	records, err := ParseUpdate(data, "dump")
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if len(records) != 1 || records[0].Prefix != "203.0.113.0/24" {
		t.Fatalf("Expected one record for 203.0.113.0/24, got %+v", records)
	}
}

func TestParseASN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint32
	}{
		{"number", "6939", 6939},
		{"quoted string", `"6939"`, 6939},
		{"empty", "", 0},
		{"null", "null", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseASN([]byte(tt.input))
			if result != tt.expected {
				t.Errorf("parseASN(%s): expected %d, got %d", tt.input, tt.expected, result)
			}
		})
	}
}
