package types

import (
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
)

// AdmitRequest is shared by the manual, self-service and facial channels.
// PartyID is used by manual and facial, Identifier by self-service, and
// Confidence by facial only.
type AdmitRequest struct {
	PartyID    string   `json:"party_id,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	Delta      int      `json:"delta"`
	Confidence *float64 `json:"confidence,omitempty"`
	Nonce      string   `json:"nonce,omitempty"`
}

type AdmissionResponse struct {
	OK            bool   `json:"ok"`
	TransactionID string `json:"transaction_id,omitempty"`
	PartyID       string `json:"party_id,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Count         int    `json:"count"`
	Allowed       int    `json:"allowed,omitempty"`
	Replayed      bool   `json:"replayed"`
	Error         string `json:"error,omitempty"`
}

// AdmissionFrom builds the response for an admission result.  err is the
// error returned alongside adm, if any.
func AdmissionFrom(adm service.Admission, err error) AdmissionResponse {
	resp := AdmissionResponse{
		OK:            err == nil,
		TransactionID: adm.TransactionID,
		PartyID:       adm.PartyID,
		Outcome:       string(adm.Outcome),
		Count:         adm.Count,
		Allowed:       adm.Allowed,
		Replayed:      adm.Replayed,
	}
	if err != nil {
		resp.Error = ErrorCode(err)
	}
	return resp
}

type BulkEntry struct {
	PartyID string `json:"party_id"`
	Delta   int    `json:"delta,omitempty"`
}

type BulkAdmitRequest struct {
	Entries []BulkEntry `json:"entries"`
	Nonce   string      `json:"nonce,omitempty"`
}

type BulkAdmitResponse struct {
	Results  []AdmissionResponse `json:"results"`
	Applied  int                 `json:"applied"`
	Rejected int                 `json:"rejected"`
}

func (r BulkAdmitRequest) ServiceEntries() []service.BulkEntry {
	out := make([]service.BulkEntry, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = service.BulkEntry{PartyID: e.PartyID, Delta: e.Delta}
	}
	return out
}

func BulkFrom(results []service.BulkResult) BulkAdmitResponse {
	resp := BulkAdmitResponse{Results: make([]AdmissionResponse, len(results))}
	for i, r := range results {
		a := AdmissionFrom(r.Admission, r.Err)
		if a.PartyID == "" {
			a.PartyID = r.PartyID
		}
		resp.Results[i] = a
		if r.Err == nil {
			resp.Applied++
		} else {
			resp.Rejected++
		}
	}
	return resp
}
