package api

import "encoding/json"

// Account references are hex-encoded canonical identities throughout.

type CreateRecoveryRequest struct {
	Caller      string   `json:"caller"`
	Friends     []string `json:"friends"`
	Threshold   uint32   `json:"threshold"`
	DelayPeriod uint64   `json:"delay_period"`
}

type RemoveRecoveryRequest struct {
	Caller string `json:"caller"`
}

type InitiateRecoveryRequest struct {
	Rescuer     string `json:"rescuer"`
	LostAccount string `json:"lost_account"`
}

type VouchRecoveryRequest struct {
	Voter       string `json:"voter"`
	LostAccount string `json:"lost_account"`
	Rescuer     string `json:"rescuer"`
}

type ClaimRecoveryRequest struct {
	Rescuer     string `json:"rescuer"`
	LostAccount string `json:"lost_account"`
}

type CloseRecoveryRequest struct {
	Caller  string `json:"caller"`
	Rescuer string `json:"rescuer"`
}

type AsRecoveredRequest struct {
	Caller      string          `json:"caller"`
	LostAccount string          `json:"lost_account"`
	Operation   json.RawMessage `json:"operation"`
}

type CancelRecoveredRequest struct {
	Caller      string `json:"caller"`
	LostAccount string `json:"lost_account"`
}

type SetRecoveredRequest struct {
	Authority   string `json:"authority"`
	LostAccount string `json:"lost_account"`
	Rescuer     string `json:"rescuer"`
}

// ErrorResponse carries a protocol rejection. Codespace and Code identify
// the error; Message is human-readable.
type ErrorResponse struct {
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code,omitempty"`
	Message   string `json:"message"`
}

type ConfigResponse struct {
	Account     string   `json:"account"`
	Friends     []string `json:"friends"`
	Threshold   uint32   `json:"threshold"`
	DelayPeriod uint64   `json:"delay_period"`
	Deposit     uint64   `json:"deposit"`
}

type ActiveRecoveryResponse struct {
	LostAccount string   `json:"lost_account"`
	Rescuer     string   `json:"rescuer"`
	CreatedAt   uint64   `json:"created_at"`
	Deposit     uint64   `json:"deposit"`
	Vouches     []string `json:"vouches"`
}

type ProxyLinkResponse struct {
	Rescuer     string `json:"rescuer"`
	LostAccount string `json:"lost_account"`
	Holds       uint64 `json:"holds"`
}

type BalanceResponse struct {
	Account  string `json:"account"`
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
}
