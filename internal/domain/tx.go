package domain

// TxAction names the mutating action a transaction performed.
type TxAction string

const (
	TxPlaceBet           TxAction = "place_bet"
	TxExitBet            TxAction = "exit_bet"
	TxProposeResolution  TxAction = "propose_resolution"
	TxOverrideResolution TxAction = "override_resolution"
	TxFinalizeResolution TxAction = "finalize_resolution"
	TxClaimPayout        TxAction = "claim_payout"
	TxApproveToken       TxAction = "approve_token"
)

// TxStatus is the confirmation signal reported by the transaction layer.
type TxStatus struct {
	Hash         string   `json:"hash"`
	Action       TxAction `json:"action"`
	IsConfirming bool     `json:"is_confirming"`
	IsConfirmed  bool     `json:"is_confirmed"`
	IsError      bool     `json:"is_error"`
}
