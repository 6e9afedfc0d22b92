package server

import (
	"strconv"
	"time"

	"limitvault/internal/escrow"
)

type limitOrderView struct {
	IsActive   bool   `json:"isActive"`
	OrderType  string `json:"orderType"`
	Asset      string `json:"asset"`
	LimitPrice string `json:"limitPrice"`
}

type escrowView struct {
	Address    string         `json:"address"`
	Owner      string         `json:"owner"`
	Balance    string         `json:"balance"`
	OrderID    string         `json:"orderId"`
	Domain     string         `json:"domain"`
	LimitOrder limitOrderView `json:"limitOrder"`
}

func newEscrowView(rec escrow.Record) escrowView {
	acc := rec.Account
	return escrowView{
		Address: rec.Address.Hex(),
		Owner:   acc.Owner.Hex(),
		Balance: strconv.FormatUint(acc.Balance, 10),
		OrderID: strconv.FormatUint(acc.OrderID, 10),
		Domain:  rec.Domain.String(),
		LimitOrder: limitOrderView{
			IsActive:   acc.LimitOrder.IsActive,
			OrderType:  acc.LimitOrder.OrderType.String(),
			Asset:      acc.LimitOrder.Asset.Hex(),
			LimitPrice: strconv.FormatUint(acc.LimitOrder.LimitPrice, 10),
		},
	}
}

type eventView struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Address    string            `json:"address"`
	Domain     string            `json:"domain"`
	Attributes map[string]string `json:"attributes"`
	At         time.Time         `json:"at"`
}

func newEventView(evt escrow.Event) eventView {
	return eventView{
		ID:         evt.ID.String(),
		Sequence:   evt.Sequence,
		Type:       evt.Type,
		Address:    evt.Address.Hex(),
		Domain:     evt.Domain.String(),
		Attributes: evt.Attributes,
		At:         evt.At,
	}
}

type assetDepositView struct {
	Escrow  escrowView `json:"escrow"`
	Mint    string     `json:"mint"`
	Holding string     `json:"holding"`
	Units   string     `json:"units"`
}

type holdingView struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Holding string `json:"holding"`
	Units   string `json:"units"`
}

type deriveView struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	OrderID string `json:"orderId"`
}
