package toncenter

import (
	"fmt"
	"strconv"

	"ton-escrow-ledger-go/internal/models"
)

type transactionsResponse struct {
	Ok     bool             `json:"ok"`
	Result []rawTransaction `json:"result"`
	Error  string           `json:"error"`
	Code   int              `json:"code"`
}

type masterchainInfoResponse struct {
	Ok     bool   `json:"ok"`
	Error  string `json:"error"`
	Result struct {
		Last struct {
			Seqno int64 `json:"seqno"`
		} `json:"last"`
	} `json:"result"`
}

type transactionId struct {
	Lt   string `json:"lt"`
	Hash string `json:"hash"`
}

type rawMessage struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
	Message     string `json:"message"`
}

type rawTransaction struct {
	Utime         int64         `json:"utime"`
	TransactionId transactionId `json:"transaction_id"`
	Fee           string        `json:"fee"`
	InMsg         *rawMessage   `json:"in_msg"`
}

// toChain converts the indexer representation. A missing inbound message
// yields an empty sender and zero value, which the poller filters out.
func (r rawTransaction) toChain() (models.ChainTransaction, error) {
	lt, err := strconv.ParseUint(r.TransactionId.Lt, 10, 64)
	if err != nil {
		return models.ChainTransaction{}, fmt.Errorf("invalid lt %q: %w", r.TransactionId.Lt, err)
	}

	tx := models.ChainTransaction{
		Hash:  r.TransactionId.Hash,
		Lt:    lt,
		Utime: r.Utime,
	}

	if tx.FeeNano, err = parseNano(r.Fee); err != nil {
		return models.ChainTransaction{}, fmt.Errorf("invalid fee %q: %w", r.Fee, err)
	}

	if r.InMsg != nil {
		tx.Sender = r.InMsg.Source
		tx.Recipient = r.InMsg.Destination
		tx.Comment = r.InMsg.Message
		if tx.ValueNano, err = parseNano(r.InMsg.Value); err != nil {
			return models.ChainTransaction{}, fmt.Errorf("invalid value %q: %w", r.InMsg.Value, err)
		}
	}
	return tx, nil
}

func parseNano(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
