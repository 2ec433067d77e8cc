// Command marketctl is the operator CLI for a running marketd: a thin
// JSON-RPC client over internal/protocolhost/server's /rpc endpoint, plus a
// keygen command for provisioning the operator's keystore file. Grounded on
// the pack's cobra+viper CLI shape (palaseus-Adrenochain's cmd/gochain,
// DevMarc16-Quantum-Proof-Blockchain's cmd/quantum-node) generalized from a
// node-runner CLI to an admin/operator client, and on the teacher's own
// services/lending/client/client.go for the "thin RPC client struct with one
// method per remote call" shape.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"marketcore/crypto"
	"marketcore/internal/chainkit"
)

// client is a minimal JSON-RPC 2.0 client over HTTP, mirroring the
// RPCRequest/RPCResponse envelope internal/protocolhost/server speaks.
type client struct {
	endpoint string
	token    string
	http     *http.Client
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func newClient() *client {
	return &client{
		endpoint: viper.GetString("server"),
		token:    viper.GetString("token"),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) call(method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(c.endpoint, "/")+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketctl: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("marketctl: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("marketctl: rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}

func main() {
	root := &cobra.Command{
		Use:   "marketctl",
		Short: "operator CLI for a running marketd instance",
	}
	root.PersistentFlags().String("server", "http://127.0.0.1:8080", "marketd RPC base URL")
	root.PersistentFlags().String("token", "", "bearer token for authenticated admin calls")
	_ = viper.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", root.PersistentFlags().Lookup("token"))
	viper.SetEnvPrefix("MARKETCTL")
	viper.AutomaticEnv()

	root.AddCommand(
		keygenCmd(),
		setPauseCmd(),
		setCollateralFactorCmd(),
		setCloseFactorCmd(),
		setLiquidationIncentiveCmd(),
		setReserveFactorCmd(),
		setDeveloperFeeCmd(),
		reduceReservesCmd(),
		fundRewardsCmd(),
		getAccountLiquidityCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keygenCmd() *cobra.Command {
	var keystorePath, passphrase string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate an operator key and write it to a keystore file",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
				return fmt.Errorf("save keystore: %w", err)
			}
			bech32Addr := key.PubKey().Address()
			wireAddr := chainkit.ToCommon(bech32Addr)
			fmt.Printf("keystore written to %s\n", keystorePath)
			fmt.Printf("operator address (bech32): %s\n", bech32Addr.String())
			fmt.Printf("operator address (wire hex, use as --caller or in RPC params): %s\n", wireAddr.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&keystorePath, "out", "./operator.keystore", "path to write the v3 keystore file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "keystore encryption passphrase")
	return cmd
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseWad(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func printResult(raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Println("ok")
		return
	}
	fmt.Println(string(raw))
}

func setPauseCmd() *cobra.Command {
	var caller, flagVal string
	cmd := &cobra.Command{
		Use:   "set-pause",
		Short: "toggle the global pause flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			pause := strings.EqualFold(flagVal, "true")
			result, err := newClient().call("admin_setPause", callerAddr, pause)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&flagVal, "pause", "true", "true to pause, false to unpause")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func setCollateralFactorCmd() *cobra.Command {
	var caller, market, value string
	cmd := &cobra.Command{
		Use:   "set-collateral-factor",
		Short: "update a listed market's collateral factor (WAD-scaled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			marketAddr, err := parseAddress(market)
			if err != nil {
				return err
			}
			wad, err := parseWad(value)
			if err != nil {
				return err
			}
			result, err := newClient().call("admin_setCollateralFactor", callerAddr, marketAddr, wad)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&market, "market", "", "market address (hex)")
	cmd.Flags().StringVar(&value, "value", "", "WAD-scaled collateral factor, e.g. 800000000000000000 for 0.8")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func setCloseFactorCmd() *cobra.Command {
	var caller, value string
	cmd := &cobra.Command{
		Use:   "set-close-factor",
		Short: "update the global close factor (WAD-scaled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			wad, err := parseWad(value)
			if err != nil {
				return err
			}
			result, err := newClient().call("admin_setCloseFactor", callerAddr, wad)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&value, "value", "", "WAD-scaled close factor")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func setLiquidationIncentiveCmd() *cobra.Command {
	var caller, value string
	cmd := &cobra.Command{
		Use:   "set-liquidation-incentive",
		Short: "update the global liquidation incentive (WAD-scaled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			wad, err := parseWad(value)
			if err != nil {
				return err
			}
			result, err := newClient().call("admin_setLiquidationInc", callerAddr, wad)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&value, "value", "", "WAD-scaled liquidation incentive, e.g. 1080000000000000000 for 1.08")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func setReserveFactorCmd() *cobra.Command {
	var caller, market, value string
	cmd := &cobra.Command{
		Use:   "set-reserve-factor",
		Short: "update a market's reserve factor (WAD-scaled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			marketAddr, err := parseAddress(market)
			if err != nil {
				return err
			}
			wad, err := parseWad(value)
			if err != nil {
				return err
			}
			result, err := newClient().call("admin_setReserveFactor", callerAddr, marketAddr, wad)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&market, "market", "", "market address (hex)")
	cmd.Flags().StringVar(&value, "value", "", "WAD-scaled reserve factor")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func setDeveloperFeeCmd() *cobra.Command {
	var caller, market, recipient string
	var bps, capBps uint32
	cmd := &cobra.Command{
		Use:   "set-developer-fee",
		Short: "configure a market's borrow fee routing (SPEC_FULL 4.3.1)",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			marketAddr, err := parseAddress(market)
			if err != nil {
				return err
			}
			recipientAddr, err := parseAddress(recipient)
			if err != nil {
				return err
			}
			params := map[string]interface{}{"bps": bps, "capBps": capBps, "recipient": recipientAddr}
			result, err := newClient().call("admin_setDeveloperFee", callerAddr, marketAddr, params)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&market, "market", "", "market address (hex)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "fee collector address (hex)")
	cmd.Flags().Uint32Var(&bps, "bps", 0, "fee in basis points")
	cmd.Flags().Uint32Var(&capBps, "cap-bps", 0, "maximum allowed fee in basis points")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func reduceReservesCmd() *cobra.Command {
	var caller, market, recipient, amount string
	cmd := &cobra.Command{
		Use:   "reduce-reserves",
		Short: "withdraw a market's protocol reserves (SPEC_FULL 4.3.2)",
		RunE: func(cmd *cobra.Command, args []string) error {
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			marketAddr, err := parseAddress(market)
			if err != nil {
				return err
			}
			recipientAddr, err := parseAddress(recipient)
			if err != nil {
				return err
			}
			wad, err := parseWad(amount)
			if err != nil {
				return err
			}
			result, err := newClient().call("admin_reduceReserves", callerAddr, marketAddr, recipientAddr, wad)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "authority address (hex)")
	cmd.Flags().StringVar(&market, "market", "", "market address (hex)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "reserve recipient address (hex)")
	cmd.Flags().StringVar(&amount, "amount", "", "WAD-scaled underlying amount")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func fundRewardsCmd() *cobra.Command {
	var pool, caller, funder, amount string
	cmd := &cobra.Command{
		Use:   "fund-rewards",
		Short: "top up a reward pool's current period (SPEC_FULL 4.5.1)",
		RunE: func(cmd *cobra.Command, args []string) error {
			poolAddr, err := parseAddress(pool)
			if err != nil {
				return err
			}
			callerAddr, err := parseAddress(caller)
			if err != nil {
				return err
			}
			funderAddr, err := parseAddress(funder)
			if err != nil {
				return err
			}
			wad, err := parseWad(amount)
			if err != nil {
				return err
			}
			result, err := newClient().call("rewards_fund", poolAddr, callerAddr, funderAddr, wad)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "reward pool address (hex)")
	cmd.Flags().StringVar(&caller, "caller", "", "distributor address (hex)")
	cmd.Flags().StringVar(&funder, "funder", "", "address the reward asset is pulled from (hex)")
	cmd.Flags().StringVar(&amount, "amount", "", "WAD-scaled reward amount")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("caller")
	_ = cmd.MarkFlagRequired("funder")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func getAccountLiquidityCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "get-account-liquidity",
		Short: "query an account's (liquidity, shortfall) pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountAddr, err := parseAddress(account)
			if err != nil {
				return err
			}
			result, err := newClient().call("market_getAccountLiquidity", accountAddr)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account address (hex)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
