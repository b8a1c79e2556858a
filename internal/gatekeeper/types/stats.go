package types

import (
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

type StatsResponse struct {
	EventID  string         `json:"event_id"`
	Capacity int            `json:"capacity"`
	Admitted int            `json:"admitted"`
	Parties  int            `json:"parties"`
	ByMethod map[string]int `json:"by_method"`
	ByStatus map[string]int `json:"by_status"`
}

func StatsFrom(st service.AttendanceStats) StatsResponse {
	resp := StatsResponse{
		EventID:  st.EventID,
		Capacity: st.Capacity,
		Admitted: st.Admitted,
		Parties:  st.Parties,
		ByMethod: make(map[string]int, len(st.ByMethod)),
		ByStatus: make(map[string]int, len(st.ByStatus)),
	}
	for k, v := range st.ByMethod {
		resp.ByMethod[string(k)] = v
	}
	for k, v := range st.ByStatus {
		resp.ByStatus[string(k)] = v
	}
	return resp
}

type PartyResponse struct {
	EventID             string  `json:"event_id"`
	PartyID             string  `json:"party_id"`
	DisplayName         string  `json:"display_name,omitempty"`
	Email               string  `json:"email,omitempty"`
	Phone               string  `json:"phone,omitempty"`
	AllowedHeadcount    int     `json:"allowed_headcount"`
	AdmittedHeadcount   int     `json:"admitted_headcount"`
	Status              string  `json:"status"`
	LastAdmissionMethod string  `json:"last_admission_method,omitempty"`
	LastAdmissionAt     *string `json:"last_admission_at,omitempty"`
}

func PartyFrom(v service.PartyView) PartyResponse {
	p := v.Party
	return PartyResponse{
		EventID:             p.EventID,
		PartyID:             p.PartyID,
		DisplayName:         p.DisplayName,
		Email:               p.Email,
		Phone:               p.Phone,
		AllowedHeadcount:    p.AllowedHeadcount,
		AdmittedHeadcount:   p.AdmittedHeadcount,
		Status:              string(v.Status),
		LastAdmissionMethod: string(p.LastAdmissionMethod),
		LastAdmissionAt:     optionalTime(p.LastAdmissionAt),
	}
}

type PartyInput struct {
	PartyID          string `json:"party_id" yaml:"party_id"`
	DisplayName      string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Email            string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone            string `json:"phone,omitempty" yaml:"phone,omitempty"`
	AllowedHeadcount int    `json:"allowed_headcount" yaml:"allowed_headcount"`
}

type AttachPartiesRequest struct {
	Parties []PartyInput `json:"parties"`
}

type AttachPartiesResponse struct {
	EventID  string `json:"event_id"`
	Attached int    `json:"attached"`
}

func (r AttachPartiesRequest) Records() []store.PartyRecord {
	out := make([]store.PartyRecord, len(r.Parties))
	for i, p := range r.Parties {
		out[i] = store.PartyRecord{
			PartyID:          p.PartyID,
			DisplayName:      p.DisplayName,
			Email:            p.Email,
			Phone:            p.Phone,
			AllowedHeadcount: p.AllowedHeadcount,
		}
	}
	return out
}

type TransactionResponse struct {
	Seq            int64  `json:"seq"`
	TransactionID  string `json:"transaction_id"`
	PartyID        string `json:"party_id"`
	Delta          int    `json:"delta"`
	Method         string `json:"method"`
	Outcome        string `json:"outcome"`
	ResultingCount int    `json:"resulting_count"`
	RecordedAt     string `json:"recorded_at"`
}

type TransactionsResponse struct {
	EventID      string                `json:"event_id"`
	Transactions []TransactionResponse `json:"transactions"`
}

func TransactionsFrom(eventID string, txns []store.AdmissionTransaction) TransactionsResponse {
	resp := TransactionsResponse{EventID: eventID, Transactions: make([]TransactionResponse, len(txns))}
	for i, t := range txns {
		resp.Transactions[i] = TransactionResponse{
			Seq:            t.Seq,
			TransactionID:  t.TransactionID,
			PartyID:        t.PartyID,
			Delta:          t.Delta,
			Method:         string(t.Method),
			Outcome:        string(t.Outcome),
			ResultingCount: t.ResultingCount,
			RecordedAt:     FormatTime(t.RecordedAt),
		}
	}
	return resp
}
