// Command keygen derives and prints the wallet address and public keys for a
// seed, so operators can exchange public keys with the faucet server without
// starting the full service.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/totem-tech/messaging/internal/faucet"
)

func main() {
	seedHex := flag.String("seed", "", "hex-encoded secret seed (defaults to TOTEM_KEY_DATA)")
	serverName := flag.String("name", "", "server name used to salt key derivation (defaults to TOTEM_SERVER_NAME)")
	flag.Parse()

	if *seedHex == "" {
		*seedHex = os.Getenv("TOTEM_KEY_DATA")
	}
	if *serverName == "" {
		*serverName = os.Getenv("TOTEM_SERVER_NAME")
	}
	if *seedHex == "" || *serverName == "" {
		fmt.Fprintln(os.Stderr, "keygen: both a seed (-seed or TOTEM_KEY_DATA) and a server name (-name or TOTEM_SERVER_NAME) are required")
		os.Exit(2)
	}

	seed, err := hex.DecodeString(*seedHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: seed is not valid hex: %v\n", err)
		os.Exit(2)
	}

	keys, err := faucet.DeriveKeys(seed, *serverName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("server name:        %s\n", *serverName)
	fmt.Printf("wallet address:     %s\n", keys.Address)
	fmt.Printf("box public key:     %s\n", hex.EncodeToString(keys.BoxPublic[:]))
	fmt.Printf("signing public key: %s\n", hex.EncodeToString(keys.SignPublic[:]))
}
