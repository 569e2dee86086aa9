// Package enrich annotates aggregate rows with data that is not part of
// their identity, such as the registration country of the origin AS.
package enrich

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/logging"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// CountryResolver provides ASN-to-country lookups.
type CountryResolver interface {
	// Resolve returns the country code for an ASN, or "" if unknown.
	Resolve(asn uint32) string
	// Count returns the number of ASNs in the mapping.
	Count() int
}

// NullResolver knows no ASN.
type NullResolver struct{}

func (NullResolver) Resolve(uint32) string { return "" }
func (NullResolver) Count() int            { return 0 }

// FileResolver loads ASN-to-country mappings from a CSV file.
// Expected format: asn,country_code (e.g., "13335,US"), header optional.
type FileResolver struct {
	filePath string
	mapping  map[uint32]string
}

// NewFileResolver creates a resolver that loads mappings from a CSV file.
func NewFileResolver(filePath string) (*FileResolver, error) {
	r := &FileResolver{
		filePath: filePath,
		mapping:  make(map[uint32]string),
	}
	if err := r.load(); err != nil {
		return nil, errors.Wrapf(err, "loading %s", filePath)
	}
	return r, nil
}

func (r *FileResolver) load() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		// Non-numeric first column is the header or junk; skip it.
		if len(record) < 2 {
			continue
		}
		asn, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 32)
		if err != nil {
			continue
		}
		country := strings.ToUpper(strings.TrimSpace(record[1]))
		if len(country) == 2 {
			r.mapping[uint32(asn)] = country
		}
	}

	logging.Component("enrich").Info("loaded ASN mappings", "count", len(r.mapping), "path", r.filePath)
	return nil
}

func (r *FileResolver) Resolve(asn uint32) string {
	return r.mapping[asn]
}

func (r *FileResolver) Count() int {
	return len(r.mapping)
}

// Annotate sets OriginCountry on every row whose origin ASN is known.
// Rows without an AS path are left alone.
func Annotate(rows []models.AggregateRow, resolver CountryResolver) int {
	annotated := 0
	for i := range rows {
		if rows[i].ASN == "" {
			continue
		}
		asn, err := strconv.ParseUint(rows[i].ASN, 10, 32)
		if err != nil {
			continue
		}
		if country := resolver.Resolve(uint32(asn)); country != "" {
			rows[i].OriginCountry = country
			annotated++
		}
	}
	return annotated
}
