package main

import cli "gopkg.in/urfave/cli.v1"

var (
	serverFlag = cli.StringFlag{
		Name:   "server",
		Value:  "http://localhost:8080",
		Usage:  "staking-ledger API base URL",
		EnvVar: "STAKECTL_SERVER",
	}
	stakingAssetFlag = cli.StringFlag{
		Name:  "staking-asset",
		Usage: "address of the asset users stake",
	}
	rewardAssetFlag = cli.StringFlag{
		Name:  "reward-asset",
		Usage: "address of the asset paid as reward",
	}
	rateFlag = cli.StringFlag{
		Name:  "rate",
		Usage: "reward rate per mille (1..1000)",
	}
	stakerFlag = cli.StringFlag{
		Name:  "staker",
		Usage: "staker address",
	}
	amountFlag = cli.StringFlag{
		Name:  "amount",
		Usage: "amount in base units, or in whole units when --decimals is set",
	}
	decimalsFlag = cli.IntFlag{
		Name:  "decimals",
		Value: -1,
		Usage: "parse --amount as a decimal with this many fractional digits",
	}
	assetFlag = cli.StringFlag{
		Name:  "asset",
		Usage: "asset address",
	}
	holderFlag = cli.StringFlag{
		Name:  "holder",
		Usage: "holder address",
	}
	ownerFlag = cli.StringFlag{
		Name:  "owner",
		Usage: "allowance owner",
	}
	spenderFlag = cli.StringFlag{
		Name:  "spender",
		Usage: "allowance spender, usually the ledger address",
	}
	fromFlag = cli.StringFlag{
		Name:  "from",
		Usage: "sender address",
	}
	toFlag = cli.StringFlag{
		Name:  "to",
		Usage: "recipient address",
	}
	userFlag = cli.StringFlag{
		Name:  "user",
		Usage: "only events for this staker",
	}
	limitFlag = cli.IntFlag{
		Name:  "limit",
		Value: 0,
		Usage: "max number of events (0 uses the server default)",
	}
)
