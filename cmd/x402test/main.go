// Command x402test exercises a running facilitator end to end: it signs
// a real payment authorization with a supplied or throwaway key, prints
// both wire forms, and submits them to /verify and optionally /settle.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"tollgate/internal/chain"
	"tollgate/internal/wallet"
	"tollgate/internal/x402"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	var (
		facilitatorURL = flag.String("facilitator", "http://localhost:8402", "facilitator base URL")
		network        = flag.String("network", "base-sepolia", "network name or CAIP-2")
		rpcURL         = flag.String("rpc", "", "optional RPC endpoint for a payer balance preflight")
		token          = flag.String("token", "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "token contract address")
		key            = flag.String("key", "", "payer private key hex; a fresh key is generated when empty")
		amount         = flag.String("amount", "10000", "payment amount in base units")
		receiver       = flag.String("receiver", "", "payment receiver address (required)")
		protocol       = flag.String("protocol", "direct", "authorization protocol: direct or witness")
		mode           = flag.String("mode", "verify", "what to run: verify, settle, or both")
		domainName     = flag.String("token-name", "USDC", "EIP-712 domain name for direct-auth")
		domainVersion  = flag.String("token-version", "2", "EIP-712 domain version for direct-auth")
	)
	flag.Parse()

	if *receiver == "" || !common.IsHexAddress(*receiver) {
		fmt.Println("ERROR: -receiver must be a valid address")
		flag.Usage()
		os.Exit(1)
	}
	if *protocol != "direct" && *protocol != "witness" {
		fmt.Println("ERROR: -protocol must be direct or witness")
		os.Exit(1)
	}
	if *mode != "verify" && *mode != "settle" && *mode != "both" {
		fmt.Println("ERROR: -mode must be verify, settle, or both")
		os.Exit(1)
	}

	net, ok := chain.Resolve(*network)
	if !ok {
		fmt.Printf("ERROR: unknown network %q\n", *network)
		os.Exit(1)
	}

	payer, err := loadPayer(*key)
	if err != nil {
		fmt.Printf("ERROR creating payer: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Payer:       %s\n", payer.AddressString())
	fmt.Printf("Facilitator: %s\n", *facilitatorURL)
	fmt.Printf("Network:     %s (chain %d)\n", net.CAIP2, net.ChainID)

	client := &http.Client{Timeout: 30 * time.Second}

	if *rpcURL != "" {
		preflightBalance(*rpcURL, net, *token, payer)
	}

	// Witness-spend permits name a spender; only the facilitator's own
	// account (or its splitter) can execute the permit.
	var spender string
	if *protocol == "witness" {
		spender = fetchFacilitatorAddress(client, *facilitatorURL)
		if spender == "" {
			fmt.Println("ERROR: facilitator reports no settlement address; witness payments need one")
			os.Exit(1)
		}
		fmt.Printf("Spender:     %s\n", spender)
	}

	fmt.Println("\n=== Step 1: Sign authorization ===")
	params := wallet.PaymentParams{
		Network:  net.CAIP2,
		ChainID:  net.ChainID,
		Token:    *token,
		Amount:   *amount,
		Receiver: *receiver,
		Spender:  spender,
		Domain:   x402.ERC3009Domain{Name: *domainName, Version: *domainVersion},
	}

	var payload *x402.PaymentPayload
	if *protocol == "witness" {
		payload, err = payer.SignedWitnessPayload(params)
	} else {
		payload, err = payer.SignedDirectPayload(params)
	}
	if err != nil {
		fmt.Printf("ERROR signing payment: %v\n", err)
		os.Exit(1)
	}

	header, err := payer.PaymentHeader(payload)
	if err != nil {
		fmt.Printf("ERROR encoding header: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("X-PAYMENT header:\n%s\n", header)

	requirements := &x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           net.CAIP2,
		MaxAmountRequired: *amount,
		PayTo:             *receiver,
		Asset:             *token,
	}
	request := map[string]interface{}{
		"x402Version":         payload.X402Version,
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}

	pretty, _ := json.MarshalIndent(request, "", "  ")
	fmt.Printf("\nRequest body:\n%s\n", string(pretty))

	failed := false

	if *mode == "verify" || *mode == "both" {
		fmt.Println("\n=== Step 2: POST /verify ===")
		status, body := post(client, *facilitatorURL+"/verify", request)
		fmt.Printf("Status: %d\nResponse: %s\n", status, body)

		if status != http.StatusOK || !jsonBool(body, "isValid") {
			fmt.Println("\n❌ Verification rejected")
			failed = true
		} else {
			fmt.Println("\n✅ Verification passed")
		}
	}

	if !failed && (*mode == "settle" || *mode == "both") {
		fmt.Println("\n=== Step 3: POST /settle ===")
		status, body := post(client, *facilitatorURL+"/settle", request)
		fmt.Printf("Status: %d\nResponse: %s\n", status, body)

		if status != http.StatusOK || !jsonBool(body, "success") {
			fmt.Println("\n❌ Settlement rejected")
			failed = true
		} else {
			fmt.Println("\n✅ Settlement confirmed on-chain")
		}
	}

	if failed {
		os.Exit(1)
	}
}

// loadPayer builds the signing wallet, generating a throwaway key when
// none is supplied.
func loadPayer(key string) (*wallet.TestPayer, error) {
	if key == "" {
		fmt.Println("No -key supplied, generating a throwaway payer key")
		return wallet.NewTestPayer()
	}
	return wallet.NewTestPayerFromKey(key)
}

// preflightBalance reads the payer's token balance straight from the
// chain so a verification failure can be told apart from an empty
// wallet.
func preflightBalance(rpcURL string, net chain.Network, token string, payer *wallet.TestPayer) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := chain.Dial(ctx, rpcURL, net, quiet)
	if err != nil {
		fmt.Printf("WARN: preflight dial failed: %v\n", err)
		return
	}
	defer client.Close()

	balance, err := client.BalanceOf(ctx, common.HexToAddress(token), payer.Address())
	if err != nil {
		fmt.Printf("WARN: preflight balance read failed: %v\n", err)
		return
	}
	fmt.Printf("Balance:     %s (token %s)\n", balance.String(), token)
}

// fetchFacilitatorAddress asks /supported for the settlement account.
func fetchFacilitatorAddress(client *http.Client, baseURL string) string {
	resp, err := client.Get(baseURL + "/supported")
	if err != nil {
		fmt.Printf("ERROR fetching /supported: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var decoded struct {
		Facilitator struct {
			Address string `json:"address"`
		} `json:"facilitator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		fmt.Printf("ERROR decoding /supported: %v\n", err)
		os.Exit(1)
	}
	return decoded.Facilitator.Address
}

func post(client *http.Client, url string, body interface{}) (int, string) {
	raw, err := json.Marshal(body)
	if err != nil {
		fmt.Printf("ERROR marshaling request: %v\n", err)
		os.Exit(1)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Printf("ERROR calling %s: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var indented bytes.Buffer
	if json.Indent(&indented, respBody, "", "  ") == nil {
		return resp.StatusCode, indented.String()
	}
	return resp.StatusCode, strings.TrimSpace(string(respBody))
}

// jsonBool reads a top-level boolean field out of a response body.
func jsonBool(body, field string) bool {
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return false
	}
	b, _ := decoded[field].(bool)
	return b
}
