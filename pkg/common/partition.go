package common

import (
	"cmp"
	"strings"
)

// PartitionKey scopes matching: fills are never matched across two keys.
type PartitionKey struct {
	Account  string `json:"account"`
	Contract string `json:"contract"`
}

func (k PartitionKey) String() string {
	return k.Account + "/" + k.Contract
}

func (k PartitionKey) Compare(o PartitionKey) int {
	if c := strings.Compare(k.Account, o.Account); c != 0 {
		return c
	}
	return cmp.Compare(k.Contract, o.Contract)
}
