package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"refchain/crypto"
	"refchain/native/referral"
	"refchain/native/referral/payout"
)

type rewardFlags struct {
	user      string
	amount    string
	tokens    string
	valueType string
	group     string
	eventID   string
	timestamp int64
	nonce     uint64
}

func (f *rewardFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.user, "user", "", "participant that produced the value")
	fs.StringVar(&f.amount, "amount", "", "reward amount in base units")
	fs.StringVar(&f.tokens, "tokens", "", "reward amount in whole tokens (e.g. 0.05)")
	fs.StringVar(&f.valueType, "value-type", "", "value type label (e.g. USDC)")
	fs.StringVar(&f.group, "group", "", "group name or 0x-prefixed group id")
	fs.StringVar(&f.eventID, "event-id", "", "source event identifier")
	fs.Int64Var(&f.timestamp, "timestamp", 0, "unix timestamp (defaults to now)")
	fs.Uint64Var(&f.nonce, "nonce", 0, "request nonce")
}

func (f *rewardFlags) build() (referral.RewardRequest, error) {
	var req referral.RewardRequest
	user, err := crypto.ParseIdentity(f.user)
	if err != nil {
		return req, fmt.Errorf("--user: %w", err)
	}
	amount, err := f.parseAmount()
	if err != nil {
		return req, err
	}
	if strings.TrimSpace(f.valueType) == "" {
		return req, fmt.Errorf("--value-type is required")
	}
	group, err := referral.ResolveGroup(f.group)
	if err != nil {
		return req, fmt.Errorf("--group: %w", err)
	}
	ts := f.timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	if ts < 0 {
		return req, fmt.Errorf("--timestamp must not be negative")
	}
	return referral.RewardRequest{
		User:      user,
		Amount:    amount,
		ValueType: strings.ToUpper(strings.TrimSpace(f.valueType)),
		Group:     group,
		EventID:   f.eventID,
		Timestamp: uint64(ts),
		Nonce:     f.nonce,
	}, nil
}

func (f *rewardFlags) parseAmount() (*uint256.Int, error) {
	amount := strings.TrimSpace(f.amount)
	tokens := strings.TrimSpace(f.tokens)
	switch {
	case amount != "" && tokens != "":
		return nil, fmt.Errorf("--amount and --tokens are mutually exclusive")
	case amount != "":
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("--amount: invalid value %q", f.amount)
		}
		return v, nil
	case tokens != "":
		v, err := payout.ParseTokenAmount(tokens)
		if err != nil {
			return nil, fmt.Errorf("--tokens: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("--amount or --tokens is required")
	}
}

type hashOutput struct {
	Hash    string                 `json:"hash"`
	Request referral.RewardRequest `json:"request"`
}

type signedReward struct {
	Request   referral.RewardRequest `json:"request"`
	Signature string                 `json:"signature"`
}

type signedRegistration struct {
	Registration referral.Registration `json:"registration"`
	Signature    string                `json:"signature"`
}

func runHashReward(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash-reward", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var rf rewardFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	req, err := rf.build()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	hash, err := req.Hash()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, hashOutput{Hash: hexutil.Encode(hash[:]), Request: req}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runSignReward(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign-reward", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var rf rewardFlags
	var keys keyFlags
	rf.register(fs)
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	req, err := rf.build()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := keys.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := req.Sign(key.PrivateKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, signedReward{Request: req, Signature: encodeSig(sig)}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runSignRegistration(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign-registration", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var users, referrer, group string
	var nonce uint64
	var keys keyFlags
	fs.StringVar(&users, "users", "", "comma-separated participants to register")
	fs.StringVar(&referrer, "referrer", "root", "referrer identity or root")
	fs.StringVar(&group, "group", "", "group name or 0x-prefixed group id")
	fs.Uint64Var(&nonce, "nonce", 0, "registration nonce")
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	reg, err := buildRegistration(users, referrer, group, nonce)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := keys.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := reg.Sign(key.PrivateKey)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeJSON(stdout, signedRegistration{Registration: reg, Signature: encodeSig(sig)}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func buildRegistration(users, referrer, group string, nonce uint64) (referral.Registration, error) {
	var reg referral.Registration
	var parsed []common.Address
	for _, raw := range strings.Split(users, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := crypto.ParseIdentity(raw)
		if err != nil {
			return reg, fmt.Errorf("--users: %w", err)
		}
		parsed = append(parsed, id)
	}
	if len(parsed) == 0 {
		return reg, fmt.Errorf("--users is required")
	}
	ref, err := referral.ParseReferrer(referrer)
	if err != nil {
		return reg, fmt.Errorf("--referrer: %w", err)
	}
	groupID, err := referral.ResolveGroup(group)
	if err != nil {
		return reg, fmt.Errorf("--group: %w", err)
	}
	return referral.Registration{Users: parsed, Referrer: ref, Group: groupID, Nonce: nonce}, nil
}
