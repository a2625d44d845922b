package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"refchain/crypto"
	"refchain/native/referral"
)

func newKeyEnv(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	t.Setenv("REFCTL_TEST_KEY", hexutil.Encode(key.Bytes()))
	return key
}

func TestUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run([]string{"bogus"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Unknown command: bogus")
	require.Equal(t, 1, run(nil, &stdout, &stderr))
}

func TestHashRewardIsDeterministic(t *testing.T) {
	key := newKeyEnv(t)
	args := []string{
		"--user", key.Identity().Hex(),
		"--tokens", "0.05",
		"--value-type", "usdc",
		"--group", "spring",
		"--event-id", "evt-1",
		"--timestamp", "1700000000",
		"--nonce", "7",
	}
	var first, second, stderr bytes.Buffer
	require.Equal(t, 0, run(append([]string{"hash-reward"}, args...), &first, &stderr), stderr.String())
	require.Equal(t, 0, run(append([]string{"hash-reward"}, args...), &second, &stderr), stderr.String())
	require.Equal(t, first.String(), second.String())

	var out struct {
		Hash    string                 `json:"hash"`
		Request referral.RewardRequest `json:"request"`
	}
	require.NoError(t, json.Unmarshal(first.Bytes(), &out))
	require.Equal(t, "USDC", out.Request.ValueType)
	require.Equal(t, "50000000000000000", out.Request.Amount.Dec())
	require.Equal(t, referral.GroupIDFromName("spring"), out.Request.Group)
	hash, err := out.Request.Hash()
	require.NoError(t, err)
	require.Equal(t, hexutil.Encode(hash[:]), out.Hash)
}

func TestHashRewardRejectsAmbiguousAmount(t *testing.T) {
	key := newKeyEnv(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{
		"hash-reward",
		"--user", key.Identity().Hex(),
		"--amount", "100",
		"--tokens", "1",
		"--value-type", "USDC",
		"--group", "spring",
	}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "mutually exclusive")
}

func TestSignRewardRecoversSigner(t *testing.T) {
	key := newKeyEnv(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{
		"sign-reward",
		"--key-env", "REFCTL_TEST_KEY",
		"--user", key.Identity().Hex(),
		"--amount", "1000",
		"--value-type", "USDC",
		"--group", "spring",
		"--event-id", "evt-2",
		"--timestamp", "1700000000",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var out struct {
		Request   referral.RewardRequest `json:"request"`
		Signature string                 `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	sig, err := hexutil.Decode(out.Signature)
	require.NoError(t, err)
	hash, err := out.Request.Hash()
	require.NoError(t, err)
	signer, err := referral.RecoverSigner(hash, sig)
	require.NoError(t, err)
	require.Equal(t, key.Identity(), signer)
}

func TestSignRegistrationRecoversRegistrar(t *testing.T) {
	key := newKeyEnv(t)
	a, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	b, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"sign-registration",
		"--key-env", "REFCTL_TEST_KEY",
		"--users", a.Identity().Hex() + ", " + b.Identity().Hex(),
		"--referrer", "root",
		"--group", "spring",
		"--nonce", "3",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var out struct {
		Registration referral.Registration `json:"registration"`
		Signature    string                `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out.Registration.Users, 2)
	require.True(t, out.Registration.Referrer.Root)
	sig, err := hexutil.Decode(out.Signature)
	require.NoError(t, err)
	hash, err := out.Registration.Hash()
	require.NoError(t, err)
	signer, err := referral.RecoverSigner(hash, sig)
	require.NoError(t, err)
	require.Equal(t, key.Identity(), signer)
}

func TestSignRequiresKey(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"sign-registration", "--users", "0x0000000000000000000000000000000000000001", "--group", "spring"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--keystore or --key-env is required")
}

func TestKeygenThenAddress(t *testing.T) {
	t.Setenv(passphraseEnv, "correct horse battery staple")
	path := filepath.Join(t.TempDir(), "signer.json")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"keygen", "--out", path, "--light"}, &stdout, &stderr), stderr.String())
	require.Contains(t, stdout.String(), "keystore: "+path)
	identity := firstLine(stdout.String())

	var addr bytes.Buffer
	require.Equal(t, 0, run([]string{"address", "--keystore", path}, &addr, &stderr), stderr.String())
	require.Equal(t, identity, firstLine(addr.String()))
	require.Contains(t, addr.String(), "display:  ref1")
	require.Contains(t, stdout.String(), "display:  ref1")

	stderr.Reset()
	require.Equal(t, 1, run([]string{"keygen", "--out", path, "--light"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "already exists")
}

func TestAdminToken(t *testing.T) {
	key := newKeyEnv(t)
	t.Setenv("REFCTL_TEST_SECRET", "s3cret")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"admin-token",
		"--subject", key.Identity().Hex(),
		"--secret-env", "REFCTL_TEST_SECRET",
		"--audience", "referrald",
		"--ttl", "5m",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(stdout.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("refchain"), jwt.WithAudience("referrald"))
	require.NoError(t, err)
	require.True(t, token.Valid)
	subject, err := crypto.ParseIdentity(claims.Subject)
	require.NoError(t, err)
	require.Equal(t, key.Identity(), subject)
	require.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestAdminTokenRequiresSecret(t *testing.T) {
	key := newKeyEnv(t)
	t.Setenv("REFCTL_EMPTY_SECRET", "")
	var stdout, stderr bytes.Buffer
	code := run([]string{"admin-token", "--subject", key.Identity().Hex(), "--secret-env", "REFCTL_EMPTY_SECRET"}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "REFCTL_EMPTY_SECRET is empty")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
