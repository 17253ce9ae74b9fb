// Copyright 2025 The go-twinvault Authors
// This file is part of go-twinvault.
//
// go-twinvault is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-twinvault is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-twinvault. If not, see <http://www.gnu.org/licenses/>.

// teller is an interactive console speaking to a twin-vault cell. It keeps
// a local registry running for server callbacks and fails over to the other
// peer when the active one is unreachable.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/twinvault/go-twinvault/atm"
	"github.com/twinvault/go-twinvault/cmd/utils"
	"github.com/twinvault/go-twinvault/core/types"
	"github.com/twinvault/go-twinvault/rmi"
)

var (
	gitCommit = "" // set via linker flags
	gitDate   = ""

	app = utils.NewApp(gitCommit, gitDate, "the twin-vault teller console")

	registryFlag = &cli.StringFlag{
		Name:  "registry",
		Usage: "Comma separated registry endpoints of the cell peers, tried in order",
		Value: "127.0.0.1:29054,127.0.0.1:29055",
	}
	callbackAddrFlag = &cli.StringFlag{
		Name:  "callback.addr",
		Usage: "Listen interface of the callback registry",
		Value: "127.0.0.1",
	}
	callbackPortFlag = &cli.IntFlag{
		Name:  "callback.port",
		Usage: "Listen port of the callback registry (0 picks a free port)",
	}
)

func init() {
	app.Action = runTeller
	app.Flags = []cli.Flag{
		registryFlag,
		callbackAddrFlag,
		callbackPortFlag,
		utils.VerbosityFlag,
		utils.LogJSONFlag,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var errNotLoggedIn = errors.New("not logged in")

func runTeller(ctx *cli.Context) error {
	utils.SetupLogger(ctx)

	var endpoints []atm.Endpoint
	for _, s := range utils.SplitAndTrim(ctx.String(registryFlag.Name)) {
		ep, err := utils.ParseEndpoint(s)
		if err != nil {
			utils.Fatalf("Invalid registry endpoint %q: %v", s, err)
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		utils.Fatalf("No registry endpoints given")
	}

	// Callbacks only work with a listening local registry.
	local := rmi.NewRegistry(ctx.String(callbackAddrFlag.Name), ctx.Int(callbackPortFlag.Name))
	if err := local.Listen(true); err != nil {
		utils.Fatalf("Failed to start the callback registry: %v", err)
	}
	defer local.Close()

	t := &teller{
		endpoints: endpoints,
		local:     local,
		notifier:  new(consoleNotifier),
	}
	for _, ep := range endpoints {
		t.remotes = append(t.remotes, rmi.NewRemoteRegistry(ep.Host, ep.Port, local))
	}
	t.repl(bufio.NewScanner(os.Stdin))
	return nil
}

// consoleNotifier renders server callbacks. They arrive on their own
// connection and may interleave with the prompt.
type consoleNotifier struct {
	rmi.Object
}

func (n *consoleNotifier) RemoteInterface() interface{} { return (*types.Notifier)(nil) }

func (n *consoleNotifier) Notify(message, level string) error {
	prefix := "<<"
	if level == types.LevelError {
		prefix = "!!"
	}
	fmt.Printf("\r%s %s\n> ", prefix, message)
	return nil
}

type teller struct {
	endpoints []atm.Endpoint
	remotes   []*rmi.RemoteRegistry
	active    int
	local     *rmi.Registry
	notifier  *consoleNotifier

	session *rmi.Stub
	card    string
}

func (t *teller) repl(scanner *bufio.Scanner) {
	fmt.Println("Twin-vault teller console. Type help for the command list.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		default:
			if err := t.execute(scanner, fields); err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}

func printHelp() {
	fmt.Print(`  login <card> <pin>        open a session
  logout                    close the session
  balance                   current balance
  info                      account holder details
  history                   transaction history
  deposit <amount>          pay money in
  withdraw <amount>         take money out
  transfer <card> <amount>  send money to another card
  pin <newpin>              change the card PIN
  token                     ask the active peer for its token state
  users                     list account holders (admin)
  cards <userid>            list cards of one holder (admin)
  reguser                   register an account holder (admin)
  regcard                   register a card (admin)
  quit                      leave the console
`)
}

func (t *teller) execute(scanner *bufio.Scanner, fields []string) error {
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <card> <pin>")
		}
		return t.login(args[0], args[1])
	case "logout":
		if t.session == nil {
			return errNotLoggedIn
		}
		_, err := t.invokeSession("Logout", t.notifier)
		t.session, t.card = nil, ""
		return err
	case "balance":
		raw, err := t.invokeSession("GetBalance")
		if err != nil {
			return err
		}
		fmt.Printf("balance of %s: %d\n", t.card, raw)
		return nil
	case "info":
		raw, err := t.invokeSession("GetInfo")
		if err != nil {
			return err
		}
		var user types.User
		if err := rmi.DecodeInto(raw, &user); err != nil {
			return err
		}
		fmt.Printf("  name:       %s\n  born:       %s\n  phone:      %s\n  citizen id: %s\n  card:       %s\n",
			user.Name, user.DOB, user.Phone, user.CitizenID, user.CardNumber)
		return nil
	case "history":
		raw, err := t.invokeSession("GetTransactionHistory")
		if err != nil {
			return err
		}
		var history []*types.Transaction
		if err := rmi.DecodeInto(raw, &history); err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("no transactions yet")
			return nil
		}
		for _, tx := range history {
			printTransaction(tx)
		}
		return nil
	case "deposit", "withdraw":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <amount>", cmd)
		}
		amount, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		method := "Deposit"
		if cmd == "withdraw" {
			method = "Withdraw"
		}
		_, err = t.invokeSession(method, amount, t.notifier)
		return err
	case "transfer":
		if len(args) != 2 {
			return errors.New("usage: transfer <card> <amount>")
		}
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[1])
		}
		_, err = t.invokeSession("Transfer", args[0], amount, t.notifier)
		return err
	case "pin":
		if len(args) != 1 {
			return errors.New("usage: pin <newpin>")
		}
		_, err := t.invokeSession("ChangePIN", args[0], t.notifier)
		return err
	case "token":
		return t.tokenStatus()
	case "users":
		return t.listUsers()
	case "cards":
		if len(args) != 1 {
			return errors.New("usage: cards <userid>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		return t.listCards(id)
	case "reguser":
		return t.registerUser(scanner)
	case "regcard":
		return t.registerCard(scanner)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

// login walks the endpoint list starting at the active peer until one
// answers. Failed credentials are reported through the callback.
func (t *teller) login(card, pin string) error {
	for i := 0; i < len(t.remotes); i++ {
		idx := (t.active + i) % len(t.remotes)
		remote := t.remotes[idx]
		auth, err := remote.Lookup(atm.AuthServiceName, (*atm.AuthAPI)(nil))
		if err != nil {
			return err
		}
		raw, err := auth.Invoke("Login", card, pin, t.notifier)
		auth.Close()
		if rmi.IsConnError(err) {
			fmt.Printf("peer %s unreachable, trying the next one\n", remote.Addr())
			continue
		}
		if err != nil {
			return err
		}
		var result types.LoginResult
		if err := rmi.DecodeInto(raw, &result); err != nil {
			return err
		}
		if !result.Success {
			return nil // the verdict arrived through the callback
		}
		session, err := remote.Lookup(result.SessionID, (*atm.UserAPI)(nil))
		if err != nil {
			return err
		}
		t.active, t.session, t.card = idx, session, card
		return nil
	}
	return errors.New("no peer reachable")
}

// invokeSession calls the session service. Connection loss or an expired
// binding closes the session locally.
func (t *teller) invokeSession(method string, args ...interface{}) (interface{}, error) {
	if t.session == nil {
		return nil, errNotLoggedIn
	}
	res, err := t.session.Invoke(method, args...)
	switch {
	case rmi.IsConnError(err):
		t.session, t.card = nil, ""
		return nil, errors.New("peer connection lost, session closed")
	case rmi.IsNotFound(err):
		t.session, t.card = nil, ""
		return nil, errors.New("session expired, login again")
	}
	return res, err
}

func (t *teller) tokenStatus() error {
	peer, err := t.remotes[t.active].Lookup(atm.PeerServiceName, (*atm.PeerAPI)(nil))
	if err != nil {
		return err
	}
	defer peer.Close()
	raw, err := peer.Invoke("GetTokenStatus")
	if err != nil {
		return err
	}
	if held, _ := raw.(bool); held {
		fmt.Printf("peer %s holds the write token\n", t.remotes[t.active].Addr())
	} else {
		fmt.Printf("peer %s is waiting for the write token\n", t.remotes[t.active].Addr())
	}
	return nil
}

// admin returns a stub for the admin surface of the active peer.
func (t *teller) admin() (*rmi.Stub, error) {
	stub, err := t.remotes[t.active].Lookup(atm.AdminServiceName, (*atm.AdminAPI)(nil))
	if err != nil {
		return nil, err
	}
	return stub, nil
}

func (t *teller) listUsers() error {
	admin, err := t.admin()
	if err != nil {
		return err
	}
	defer admin.Close()
	raw, err := admin.Invoke("GetUsers")
	if rmi.IsNotFound(err) {
		return errors.New("admin surface not enabled on this peer")
	}
	if err != nil {
		return err
	}
	var users []*types.User
	if err := rmi.DecodeInto(raw, &users); err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("%4d  %-24s  %-12s  %s\n", u.ID, u.Name, u.DOB, u.Phone)
	}
	return nil
}

func (t *teller) listCards(userID int64) error {
	admin, err := t.admin()
	if err != nil {
		return err
	}
	defer admin.Close()
	raw, err := admin.Invoke("GetCards", userID)
	if rmi.IsNotFound(err) {
		return errors.New("admin surface not enabled on this peer")
	}
	if err != nil {
		return err
	}
	var cards []*types.Card
	if err := rmi.DecodeInto(raw, &cards); err != nil {
		return err
	}
	for _, c := range cards {
		fmt.Printf("%s  balance %d\n", c.Number, c.Balance)
	}
	return nil
}

func (t *teller) registerUser(scanner *bufio.Scanner) error {
	admin, err := t.admin()
	if err != nil {
		return err
	}
	defer admin.Close()
	name, ok := prompt(scanner, "name: ")
	if !ok {
		return nil
	}
	dob, ok := prompt(scanner, "date of birth (dd/mm/yyyy): ")
	if !ok {
		return nil
	}
	phone, ok := prompt(scanner, "phone: ")
	if !ok {
		return nil
	}
	citizenID, ok := prompt(scanner, "citizen id: ")
	if !ok {
		return nil
	}
	_, err = admin.Invoke("RegisterUser", name, dob, phone, citizenID, t.notifier)
	if rmi.IsNotFound(err) {
		return errors.New("admin surface not enabled on this peer")
	}
	return err
}

func (t *teller) registerCard(scanner *bufio.Scanner) error {
	admin, err := t.admin()
	if err != nil {
		return err
	}
	defer admin.Close()
	card, ok := prompt(scanner, "card number: ")
	if !ok {
		return nil
	}
	pin, ok := prompt(scanner, "pin: ")
	if !ok {
		return nil
	}
	balanceStr, ok := prompt(scanner, "opening balance: ")
	if !ok {
		return nil
	}
	balance, err := strconv.ParseInt(balanceStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid balance %q", balanceStr)
	}
	ownerStr, ok := prompt(scanner, "owner user id: ")
	if !ok {
		return nil
	}
	owner, err := strconv.ParseInt(ownerStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", ownerStr)
	}
	_, err = admin.Invoke("RegisterCard", card, pin, balance, owner, t.notifier)
	if rmi.IsNotFound(err) {
		return errors.New("admin surface not enabled on this peer")
	}
	return err
}

func prompt(scanner *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(scanner.Text()), true
}

func printTransaction(tx *types.Transaction) {
	when := time.UnixMilli(tx.Timestamp).Format("2006-01-02 15:04:05")
	switch tx.Kind {
	case types.TxTransferOut:
		fmt.Printf("%s  %-12s  -%d  to %s\n", when, tx.Kind, tx.Amount, tx.ToCard)
	case types.TxTransferIn:
		fmt.Printf("%s  %-12s  +%d  from %s\n", when, tx.Kind, tx.Amount, tx.FromCard)
	case types.TxWithdraw:
		fmt.Printf("%s  %-12s  -%d\n", when, tx.Kind, tx.Amount)
	default:
		fmt.Printf("%s  %-12s  +%d\n", when, tx.Kind, tx.Amount)
	}
}
