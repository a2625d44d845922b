// Command refctl is the operator tool for referral deployments: it manages
// signing keys, produces signed reward requests and registrations ready to
// POST to referrald, and mints admin tokens.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"refchain/cmd/internal/passphrase"
	"refchain/crypto"
	"refchain/services/referrald"
)

const passphraseEnv = "REFCTL_PASSPHRASE"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "hash-reward":
		return runHashReward(args[1:], stdout, stderr)
	case "sign-reward":
		return runSignReward(args[1:], stdout, stderr)
	case "sign-registration":
		return runSignRegistration(args[1:], stdout, stderr)
	case "admin-token":
		return runAdminToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: refctl <command> [flags]",
		"",
		"Commands:",
		"  keygen             create a keystore (--out, --light)",
		"  address            print the identity of a key",
		"  hash-reward        print the canonical hash of a reward request",
		"  sign-reward        sign a reward request for POST /v1/rewards",
		"  sign-registration  sign a registration for POST /v1/edges",
		"  admin-token        mint an admin bearer token for referrald",
		"",
		"Keys come from --keystore (passphrase from " + passphraseEnv + " or the terminal)",
		"or from --key-env naming a variable that holds a hex private key.",
	}, "\n")
}

type keyFlags struct {
	keystore string
	keyEnv   string
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.keystore, "keystore", "", "path to the signing keystore")
	fs.StringVar(&k.keyEnv, "key-env", "", "environment variable holding a hex private key")
}

func (k *keyFlags) load() (*crypto.PrivateKey, error) {
	switch {
	case strings.TrimSpace(k.keyEnv) != "":
		raw := strings.TrimSpace(os.Getenv(k.keyEnv))
		if raw == "" {
			return nil, fmt.Errorf("%s is empty", k.keyEnv)
		}
		return crypto.PrivateKeyFromHex(raw)
	case strings.TrimSpace(k.keystore) != "":
		pass, err := passphrase.NewSource(passphraseEnv, "keystore passphrase").Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadFromKeystore(k.keystore, pass)
	default:
		return nil, fmt.Errorf("--keystore or --key-env is required")
	}
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var out string
	var light bool
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&light, "light", false, "use the light scrypt cost (testing only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	if _, err := os.Stat(out); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", out)
		return 1
	}
	pass, err := passphrase.NewSource(passphraseEnv, "new keystore passphrase", passphrase.WithConfirmation()).Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	params := crypto.StandardScrypt
	if light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWithParams(out, key, pass, params); err != nil {
		fmt.Fprintf(stderr, "Error: save keystore: %v\n", err)
		return 1
	}
	printIdentity(stdout, key)
	fmt.Fprintf(stdout, "keystore: %s\n", out)
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keys keyFlags
	keys.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := keys.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printIdentity(stdout, key)
	return 0
}

func runAdminToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var subject, secretEnv, issuer, audience string
	var ttl time.Duration
	fs.StringVar(&subject, "subject", "", "authority identity the token acts for")
	fs.StringVar(&secretEnv, "secret-env", "REFERRALD_JWT_SECRET", "environment variable holding the HMAC secret")
	fs.StringVar(&issuer, "issuer", "refchain", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := crypto.ParseIdentity(subject)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --subject: %v\n", err)
		return 1
	}
	secret := strings.TrimSpace(os.Getenv(secretEnv))
	if secret == "" {
		fmt.Fprintf(stderr, "Error: %s is empty\n", secretEnv)
		return 1
	}
	if ttl <= 0 {
		fmt.Fprintln(stderr, "Error: --ttl must be positive")
		return 1
	}
	token, err := referrald.IssueToken(secret, issuer, audience, caller, ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func printIdentity(w io.Writer, key *crypto.PrivateKey) {
	id := key.Identity()
	fmt.Fprintf(w, "identity: %s\n", strings.ToLower(id.Hex()))
	fmt.Fprintf(w, "display:  %s\n", crypto.FormatIdentity(id))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeSig(sig []byte) string {
	return hexutil.Encode(sig)
}
