// Package roster reads party rosters from YAML files.
//
// A roster names the event it belongs to and lists its parties:
//
//	event_id: gala-2026
//	parties:
//	  - party_id: smith
//	    display_name: The Smiths
//	    email: smith@example.com
//	    allowed_headcount: 4
package roster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/types"
)

type Roster struct {
	EventID string             `yaml:"event_id"`
	Parties []types.PartyInput `yaml:"parties"`
}

// Records converts the roster entries into party records for the ledger.
// Validation of headcounts and contacts happens in the ledger's Attach.
func (r Roster) Records() []store.PartyRecord {
	return types.AttachPartiesRequest{Parties: r.Parties}.Records()
}

// LoadFile reads a roster from path.
func LoadFile(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read roster: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return Roster{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a roster document.  Unknown keys are rejected so a typo
// like "allowed_headcout" does not silently become zero.
func Parse(data []byte) (Roster, error) {
	var r Roster
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return Roster{}, errors.New("roster is empty")
		}
		return Roster{}, fmt.Errorf("parse roster: %w", err)
	}
	if r.EventID == "" {
		return Roster{}, errors.New("roster: event_id is required")
	}
	if len(r.Parties) == 0 {
		return Roster{}, errors.New("roster: no parties")
	}
	return r, nil
}
