/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package addressbook maps any textual form of a TON account to the full set
// of equivalent encodings so a deposit resolves to one user regardless of how
// the sender address was rendered.
package addressbook

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/snksoft/crc"
	"github.com/tonkeeper/tongo/ton"
)

// ErrMalformedAddress is returned for input that is not a valid raw or
// friendly TON address.
var ErrMalformedAddress = errors.New("malformed address")

const (
	tagBounceable    byte = 0x11
	tagNonBounceable byte = 0x51
	tagTestnetFlag   byte = 0x80

	friendlyBytes   = 36
	friendlyTextLen = 48
	accountIdLen    = 32
)

var (
	urlToStd = strings.NewReplacer("-", "+", "_", "/")
	noneAddr = map[string]bool{"": true, "addr_none": true}
)

// Account is a decoded workchain + account id pair. Bounceable and Testnet
// reflect the flags of the form it was parsed from; raw input is reported
// as bounceable mainnet.
type Account struct {
	Workchain  int32
	Id         [accountIdLen]byte
	Bounceable bool
	Testnet    bool
}

// Raw returns the "wc:hex" form.
func (a Account) Raw() string {
	return a.tongo().String()
}

// Friendly returns the 48 character encoded form.
func (a Account) Friendly(bounceable, testnet, urlSafe bool) string {
	s := a.tongo().ToHuman(bounceable, testnet)
	if !urlSafe {
		s = urlToStd.Replace(s)
	}
	return s
}

// Equal compares workchain and account id only.
func (a Account) Equal(b Account) bool {
	return a.Workchain == b.Workchain && a.Id == b.Id
}

func (a Account) tongo() ton.AccountID {
	return ton.AccountID{Workchain: a.Workchain, Address: a.Id}
}

// IsNone reports whether addr is empty or the explicit "no address" marker
// used for external messages.
func IsNone(addr string) bool {
	return noneAddr[strings.TrimSpace(addr)]
}

// Parse decodes a raw or friendly address.
func Parse(addr string) (Account, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Account{}, fmt.Errorf("%w: empty input", ErrMalformedAddress)
	}
	if strings.Contains(addr, ":") {
		return parseRaw(addr)
	}
	return parseFriendly(addr)
}

func parseRaw(addr string) (Account, error) {
	wcPart, hexPart, _ := strings.Cut(addr, ":")
	if _, err := strconv.ParseInt(wcPart, 10, 8); err != nil {
		return Account{}, fmt.Errorf("%w: bad workchain %q", ErrMalformedAddress, wcPart)
	}
	if len(hexPart) != 2*accountIdLen {
		return Account{}, fmt.Errorf("%w: account id must be %d hex chars", ErrMalformedAddress, 2*accountIdLen)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}

	id, err := ton.ParseAccountID(addr)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	return Account{Workchain: id.Workchain, Id: id.Address, Bounceable: true}, nil
}

func parseFriendly(addr string) (Account, error) {
	if len(addr) != friendlyTextLen {
		return Account{}, fmt.Errorf("%w: expected %d characters, got %d", ErrMalformedAddress, friendlyTextLen, len(addr))
	}

	hasURL := strings.ContainsAny(addr, "-_")
	hasStd := strings.ContainsAny(addr, "+/")
	if hasURL && hasStd {
		return Account{}, fmt.Errorf("%w: mixed base64 alphabets", ErrMalformedAddress)
	}
	enc := base64.RawStdEncoding
	if hasURL {
		enc = base64.RawURLEncoding
	}

	data, err := enc.Strict().DecodeString(addr)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if len(data) != friendlyBytes {
		return Account{}, fmt.Errorf("%w: decoded length %d", ErrMalformedAddress, len(data))
	}

	want := binary.BigEndian.Uint16(data[34:])
	if got := checksum(data[:34]); got != want {
		return Account{}, fmt.Errorf("%w: checksum mismatch", ErrMalformedAddress)
	}

	tag := data[0]
	acc := Account{
		Workchain: int32(int8(data[1])),
		Testnet:   tag&tagTestnetFlag != 0,
	}
	switch tag &^ tagTestnetFlag {
	case tagBounceable:
		acc.Bounceable = true
	case tagNonBounceable:
		acc.Bounceable = false
	default:
		return Account{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedAddress, tag)
	}
	copy(acc.Id[:], data[2:34])
	return acc, nil
}

// checksum is CRC-16/XMODEM: poly 0x1021, init 0, no reflection.
func checksum(b []byte) uint16 {
	return uint16(crc.CalculateCRC(crc.XMODEM, b))
}

// Variants returns every encoding of addr's account: the raw form plus the
// bounceable and non-bounceable forms for mainnet and testnet in both base64
// alphabets. The result is sorted and free of duplicates.
func Variants(addr string) ([]string, error) {
	acc, err := Parse(addr)
	if err != nil {
		return nil, err
	}
	return acc.Variants(), nil
}

// Variants returns the variant set of a decoded account.
func (a Account) Variants() []string {
	set := map[string]struct{}{a.Raw(): {}}
	for _, bounceable := range []bool{true, false} {
		for _, testnet := range []bool{false, true} {
			for _, urlSafe := range []bool{true, false} {
				set[a.Friendly(bounceable, testnet, urlSafe)] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Canonical returns the raw form of addr.
func Canonical(addr string) (string, error) {
	acc, err := Parse(addr)
	if err != nil {
		return "", err
	}
	return acc.Raw(), nil
}

// SameAccount reports whether a and b are valid encodings of the same
// workchain and account id.
func SameAccount(a, b string) bool {
	accA, err := Parse(a)
	if err != nil {
		return false
	}
	accB, err := Parse(b)
	if err != nil {
		return false
	}
	return accA.Equal(accB)
}

// LookupKeys returns the strings to match against stored variants. Malformed
// input degrades to the literal address so callers can still find exact
// matches; the returned error reports the degradation.
func LookupKeys(addr string) ([]string, error) {
	variants, err := Variants(addr)
	if err != nil {
		return []string{strings.TrimSpace(addr)}, err
	}
	return variants, nil
}
