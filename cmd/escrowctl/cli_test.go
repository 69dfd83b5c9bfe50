package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) *btcec.PrivateKey {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = seed
	}
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key
}

func testAddress(seed byte) string {
	addr, _ := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(testKey(seed).PubKey().SerializeCompressed()),
		&chaincfg.RegressionNetParams,
	)
	return addr.EncodeAddress()
}

func pubkeyHex(seed byte) string {
	return hex.EncodeToString(testKey(seed).PubKey().SerializeCompressed())
}

// Commands are package level values mutated by the cli while running, so
// these tests don't run in parallel.
func run(args ...string) error {
	return newApp().Run(append([]string{"escrowctl", "--network", "regtest"}, args...))
}

func TestScript(t *testing.T) {
	require.NoError(t, run(
		"script", "--buyer-pubkey", pubkeyHex(1), "--seller-pubkey", pubkeyHex(2),
	))
	require.NoError(t, run(
		"script", "--buyer-pubkey", pubkeyHex(1), "--seller-pubkey", pubkeyHex(2),
		"--arbitrator-pubkey", pubkeyHex(3),
	))
	require.Error(t, run(
		"script", "--buyer-pubkey", "zz", "--seller-pubkey", pubkeyHex(2),
	))
	require.Error(t, newApp().Run([]string{
		"escrowctl", "--network", "signet", "script",
		"--buyer-pubkey", pubkeyHex(1), "--seller-pubkey", pubkeyHex(2),
	}))
}

func TestReceivers(t *testing.T) {
	claims := []map[string]interface{}{
		{"amount": 1000, "address": testAddress(5), "blockHeight": 110, "txid": "a"},
		{"amount": 3000, "address": testAddress(6), "blockHeight": 120, "txid": "b"},
	}
	buf, err := json.Marshal(claims)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "claims.json")
	require.NoError(t, os.WriteFile(path, buf, 0o600))

	require.NoError(t, run(
		"receivers", "--claims", path, "--default-address", testAddress(7),
		"--amount", "1500000", "--tx-fee", "5000", "--height", "500",
		"--genesis-height", "100", "--grid", "10",
	))
	require.Error(t, run(
		"receivers", "--claims", path, "--default-address", "invalid",
		"--amount", "1500000", "--tx-fee", "5000", "--height", "500",
	))
}

func TestEmergencyPayout(t *testing.T) {
	wif := func(seed byte) string {
		w, _ := btcutil.NewWIF(testKey(seed), &chaincfg.RegressionNetParams, true)
		return w.String()
	}
	txid := strings.Repeat("ab", 32)

	require.NoError(t, run(
		"emergency-payout", "--deposit-txid", txid,
		"--buyer-key", wif(1), "--seller-key", wif(2),
		"--buyer-amount", "600000", "--buyer-address", testAddress(3),
		"--seller-amount", "1400000", "--seller-address", testAddress(4),
		"--tx-fee", "5000",
	))
	require.Error(t, run(
		"emergency-payout", "--deposit-txid", txid,
		"--buyer-key", wif(1), "--seller-key", wif(2),
		"--buyer-amount", "600000", "--tx-fee", "5000",
	))
}

func TestTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/trades":
			require.Equal(t, "failed", r.URL.Query().Get("collection"))
			_, _ = w.Write([]byte(`[{"id": "t1"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "trade not found"}`))
		}
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	require.NoError(t, run("trades", "--rpcserver", host, "--collection", "failed"))
	err := run("trades", "--rpcserver", host, "--id", "unknown")
	require.EqualError(t, err, "trade not found")
}
