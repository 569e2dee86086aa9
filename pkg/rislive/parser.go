package rislive

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// RISMessage is the top-level message from RIS Live.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update data from RIS Live.
type RISUpdateData struct {
	Type          string            `json:"type"`
	Timestamp     float64           `json:"timestamp"`
	Peer          string            `json:"peer"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Host          string            `json:"host"`
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
}

// RISAnnouncement represents announced prefixes sharing a next hop.
type RISAnnouncement struct {
	NextHop  string   `json:"next_hop"`
	Prefixes []string `json:"prefixes"`
}

// ParseMessage parses a RIS Live WebSocket message into BGP elements,
// one per announced or withdrawn prefix.
// Returns nil if the message is not a BGP update (e.g., ris_error, RIS_PEER_STATE).
func ParseMessage(data []byte, collector string) ([]models.RawRecord, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}

	// Only process ris_message type
	if msg.Type != "ris_message" {
		return nil, nil
	}
	return ParseUpdate(msg.Data, collector)
}

// ParseUpdate parses the data object of a ris_message.
// Archived dumps often store only this object, one per line.
func ParseUpdate(data []byte, collector string) ([]models.RawRecord, error) {
	var updateData RISUpdateData
	if err := json.Unmarshal(data, &updateData); err != nil {
		return nil, errors.Wrap(err, "unmarshal update data")
	}
	if updateData.Type != "" && updateData.Type != "UPDATE" {
		return nil, nil
	}
	if updateData.Host != "" {
		collector = updateData.Host
	}

	peerASN := parseASN(updateData.PeerASN)

	// Parse AS path (may contain nested arrays for AS_SET)
	asPath, err := parseASPath(updateData.Path)
	if err != nil {
		return nil, errors.Wrap(err, "parse AS path")
	}

	var records []models.RawRecord
	for _, ann := range updateData.Announcements {
		for _, prefix := range ann.Prefixes {
			records = append(records, models.RawRecord{
				Type:      models.ElemAnnounce,
				Prefix:    prefix,
				ASPath:    asPath,
				NextHop:   ann.NextHop,
				PeerIP:    updateData.Peer,
				PeerASN:   peerASN,
				Timestamp: updateData.Timestamp,
				Collector: collector,
			})
		}
	}

	for _, prefix := range updateData.Withdrawals {
		records = append(records, models.RawRecord{
			Type:      models.ElemWithdraw,
			Prefix:    prefix,
			PeerIP:    updateData.Peer,
			PeerASN:   peerASN,
			Timestamp: updateData.Timestamp,
			Collector: collector,
		})
	}

	return records, nil
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) uint32 {
	if len(data) == 0 {
		return 0
	}

	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return uint32(val)
	}

	return 0
}

// parseASPath splits the AS path into segments. RIS Live writes sequence
// members as numbers and each AS_SET as a nested array:
// [174, 3356, [65001, 65002]].
func parseASPath(data json.RawMessage) ([]models.ASPathSegment, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var simpleArray []uint32
	if err := json.Unmarshal(data, &simpleArray); err == nil {
		return models.Sequence(simpleArray...), nil
	}

	var mixedArray []json.RawMessage
	if err := json.Unmarshal(data, &mixedArray); err != nil {
		return nil, errors.Wrap(err, "cannot parse path")
	}

	var result []models.ASPathSegment
	for _, elem := range mixedArray {
		var num uint32
		if err := json.Unmarshal(elem, &num); err == nil {
			if n := len(result); n > 0 && !result[n-1].Set {
				result[n-1].ASNs = append(result[n-1].ASNs, num)
			} else {
				result = append(result, models.ASPathSegment{ASNs: []uint32{num}})
			}
			continue
		}

		var set []uint32
		if err := json.Unmarshal(elem, &set); err != nil {
			return nil, errors.Wrapf(err, "cannot parse path element %s", elem)
		}
		result = append(result, models.ASPathSegment{Set: true, ASNs: set})
	}

	return result, nil
}
