// Command walletnode is the demo driver: it boots a small loopback
// network of wallets, sends a handful of transactions, waits for the
// ledgers to converge, and prints the result before shutting every node
// down (which writes the ledger dumps under ./blockchains).
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/pouria-shahmiri/greychain/pkg/config"
	"github.com/pouria-shahmiri/greychain/pkg/node"
	"github.com/pouria-shahmiri/greychain/pkg/transport"
	"github.com/pouria-shahmiri/greychain/pkg/types"
)

const (
	walletsCount = 3
	txsPerWallet = 2
	idleTimeout  = 60 * time.Second
)

func main() {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	fmt.Println(cfg.String())
	fmt.Println()

	bootstrap, err := node.New(cfg, nil)
	if err != nil {
		log.Fatalf("could not boot bootstrap node: %v", err)
	}

	nodes := []*node.Node{bootstrap}
	seed := []types.PeerInfo{bootstrap.Descriptor()}
	for i := 1; i < walletsCount; i++ {
		n, err := node.New(cfg, seed)
		if err != nil {
			log.Fatalf("could not boot node %d: %v", i, err)
		}
		if err := n.GoOnline(); err != nil {
			log.Printf("node at port %d: %v", n.Port(), err)
		}
		nodes = append(nodes, n)
	}

	// Let the Status/NodesRes gossip settle before sending value.
	time.Sleep(time.Second)

	for i, n := range nodes {
		for j := 0; j < txsPerWallet; j++ {
			payee := nodes[(i+1)%len(nodes)]
			if _, err := n.SendTx(payee.PublicKeyPEM(), float64(10*(i+1)+j)); err != nil {
				log.Printf("send tx from port %d: %v", n.Port(), err)
			}
		}
	}

	for _, n := range nodes {
		if !n.WaitIdle(idleTimeout) {
			log.Printf("node at port %d never went idle", n.Port())
		}
	}
	// One more settle pass: idle flips per-tick, gossip may still be in
	// flight between nodes that went idle at different times.
	time.Sleep(2 * time.Second)

	for _, n := range nodes {
		fmt.Printf("wallet%d: %d peers, %d blocks, tip %d\n",
			n.Port(), n.MembershipLen(), n.LedgerLen(), n.CurHash())
	}
	fmt.Printf("total packets sent: %d\n", transport.PacketsSent())

	for _, n := range nodes {
		n.Shutdown()
	}
}
