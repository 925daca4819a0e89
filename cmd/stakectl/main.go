// stakectl is a command-line client for the staking-ledger HTTP API.
package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/atmx/staking-ledger/internal/staking"
	"github.com/atmx/staking-ledger/internal/units"
)

func main() {
	app := cli.App{
		Name:  "stakectl",
		Usage: "Query and operate a staking-ledger server",
		Flags: []cli.Flag{serverFlag},
		Commands: []cli.Command{
			{
				Name:   "initialize",
				Usage:  "Set the staking asset, reward asset and reward rate",
				Flags:  []cli.Flag{stakingAssetFlag, rewardAssetFlag, rateFlag},
				Action: initializeAction,
			},
			{
				Name:   "config",
				Usage:  "Show the ledger configuration",
				Action: getAction("/configuration", nil),
			},
			{
				Name:   "stake",
				Usage:  "Stake an amount for a staker",
				Flags:  []cli.Flag{stakerFlag, amountFlag, decimalsFlag},
				Action: stakeAction,
			},
			{
				Name:   "preview",
				Usage:  "Compute the reward a stake would reserve",
				Flags:  []cli.Flag{amountFlag, decimalsFlag},
				Action: previewAction,
			},
			{
				Name:   "unstake",
				Usage:  "Withdraw a staker's whole position and reward",
				Flags:  []cli.Flag{stakerFlag},
				Action: unstakeAction,
			},
			{
				Name:      "user",
				Usage:     "Show a staker's position",
				ArgsUsage: "<address>",
				Action:    userAction,
			},
			{
				Name:   "events",
				Usage:  "List Staked and Unstaked events",
				Flags:  []cli.Flag{userFlag, limitFlag},
				Action: eventsAction,
			},
			{
				Name:   "assets",
				Usage:  "List registered assets",
				Action: getAction("/assets", nil),
			},
			{
				Name:   "balance",
				Usage:  "Show an asset balance",
				Flags:  []cli.Flag{assetFlag, holderFlag},
				Action: balanceAction,
			},
			{
				Name:   "approve",
				Usage:  "Set an allowance so the ledger can pull a stake",
				Flags:  []cli.Flag{assetFlag, ownerFlag, spenderFlag, amountFlag, decimalsFlag},
				Action: approveAction,
			},
			{
				Name:   "transfer",
				Usage:  "Move asset units between holders",
				Flags:  []cli.Flag{assetFlag, fromFlag, toFlag, amountFlag, decimalsFlag},
				Action: transferAction,
			},
			{
				Name:   "mint",
				Usage:  "Credit asset units from the faucet",
				Flags:  []cli.Flag{assetFlag, toFlag, amountFlag, decimalsFlag},
				Action: mintAction,
			},
			{
				Name:   "audit",
				Usage:  "Run a solvency audit now",
				Action: getAction("/audit", nil),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiClient(ctx *cli.Context) *client {
	return newClient(ctx.GlobalString(serverFlag.Name))
}

func output(ctx *cli.Context, data []byte, err error) error {
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, data)
}

func getAction(path string, query url.Values) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		data, err := apiClient(ctx).get(path, query)
		return output(ctx, data, err)
	}
}

func requireString(ctx *cli.Context, name string) (string, error) {
	v := ctx.String(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

// amountArg returns --amount in base units. With --decimals it is parsed as
// a whole-unit decimal; otherwise it is passed through for the server to
// validate.
func amountArg(ctx *cli.Context) (string, error) {
	raw, err := requireString(ctx, amountFlag.Name)
	if err != nil {
		return "", err
	}
	decimals := ctx.Int(decimalsFlag.Name)
	if decimals < 0 {
		return raw, nil
	}
	v, err := units.ParseAmount(raw, int32(decimals))
	if err != nil {
		return "", err
	}
	return v.Dec(), nil
}

func initializeAction(ctx *cli.Context) error {
	req := staking.InitializeRequest{
		StakingAsset: ctx.String(stakingAssetFlag.Name),
		RewardAsset:  ctx.String(rewardAssetFlag.Name),
		RewardRate:   ctx.String(rateFlag.Name),
	}
	data, err := apiClient(ctx).post("/initialize", req)
	return output(ctx, data, err)
}

func stakeAction(ctx *cli.Context) error {
	staker, err := requireString(ctx, stakerFlag.Name)
	if err != nil {
		return err
	}
	amount, err := amountArg(ctx)
	if err != nil {
		return err
	}
	data, err := apiClient(ctx).post("/stake", staking.StakeRequest{Staker: staker, Amount: amount})
	return output(ctx, data, err)
}

func previewAction(ctx *cli.Context) error {
	amount, err := amountArg(ctx)
	if err != nil {
		return err
	}
	data, err := apiClient(ctx).get("/stake/preview", url.Values{"amount": {amount}})
	return output(ctx, data, err)
}

func unstakeAction(ctx *cli.Context) error {
	staker, err := requireString(ctx, stakerFlag.Name)
	if err != nil {
		return err
	}
	data, err := apiClient(ctx).post("/unstake", staking.UnstakeRequest{Staker: staker})
	return output(ctx, data, err)
}

func userAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: stakectl user <address>")
	}
	data, err := apiClient(ctx).get("/users/"+url.PathEscape(ctx.Args().First()), nil)
	return output(ctx, data, err)
}

func eventsAction(ctx *cli.Context) error {
	q := url.Values{}
	if v := ctx.String(userFlag.Name); v != "" {
		q.Set("user", v)
	}
	if n := ctx.Int(limitFlag.Name); n > 0 {
		q.Set("limit", strconv.Itoa(n))
	}
	data, err := apiClient(ctx).get("/events", q)
	return output(ctx, data, err)
}

func balanceAction(ctx *cli.Context) error {
	a, err := requireString(ctx, assetFlag.Name)
	if err != nil {
		return err
	}
	holder, err := requireString(ctx, holderFlag.Name)
	if err != nil {
		return err
	}
	path := "/assets/" + url.PathEscape(a) + "/balances/" + url.PathEscape(holder)
	data, err := apiClient(ctx).get(path, nil)
	return output(ctx, data, err)
}

func approveAction(ctx *cli.Context) error {
	a, err := requireString(ctx, assetFlag.Name)
	if err != nil {
		return err
	}
	owner, err := requireString(ctx, ownerFlag.Name)
	if err != nil {
		return err
	}
	spender, err := requireString(ctx, spenderFlag.Name)
	if err != nil {
		return err
	}
	amount, err := amountArg(ctx)
	if err != nil {
		return err
	}
	req := staking.ApproveRequest{Owner: owner, Spender: spender, Amount: amount}
	data, err := apiClient(ctx).post("/assets/"+url.PathEscape(a)+"/approve", req)
	return output(ctx, data, err)
}

func transferAction(ctx *cli.Context) error {
	a, err := requireString(ctx, assetFlag.Name)
	if err != nil {
		return err
	}
	amount, err := amountArg(ctx)
	if err != nil {
		return err
	}
	req := staking.TransferRequest{From: ctx.String(fromFlag.Name), To: ctx.String(toFlag.Name), Amount: amount}
	data, err := apiClient(ctx).post("/assets/"+url.PathEscape(a)+"/transfer", req)
	return output(ctx, data, err)
}

func mintAction(ctx *cli.Context) error {
	a, err := requireString(ctx, assetFlag.Name)
	if err != nil {
		return err
	}
	amount, err := amountArg(ctx)
	if err != nil {
		return err
	}
	req := staking.MintRequest{To: ctx.String(toFlag.Name), Amount: amount}
	data, err := apiClient(ctx).post("/assets/"+url.PathEscape(a)+"/mint", req)
	return output(ctx, data, err)
}
