package cli

import "fmt"

// TokensList displays the token whitelist with effective fee rates.
// The endpoint is admin-guarded, so an admin token must be configured.
func TokensList(chainID int64) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := NewAPIClient(config.API.Endpoint, loadAdminToken())
	tokens, err := client.ListTokens(chainID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║         Token Whitelist                  ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	if len(tokens) == 0 {
		fmt.Println(infoStyle.Render("No tokens whitelisted."))
		fmt.Println()
		return nil
	}

	var lastChain int64 = -1
	for _, token := range tokens {
		if token.ChainID != lastChain {
			if lastChain != -1 {
				fmt.Println()
			}
			fmt.Println(headerStyle.Render(fmt.Sprintf("Chain %d:", token.ChainID)))
			lastChain = token.ChainID
		}
		fmt.Printf("  %-6s %s\n", token.Symbol, token.Address)
		fmt.Printf("         decimals %-3d fee %s\n", token.Decimals, feeText(token))
	}
	fmt.Println()
	fmt.Printf("%d token(s)\n", len(tokens))
	fmt.Println()

	return nil
}

func feeText(token Token) string {
	if token.FeeExempt {
		return successStyle.Render("exempt")
	}
	bps := token.FeeBps - token.DiscountBps
	if bps < 0 {
		bps = 0
	}
	if token.DiscountBps > 0 {
		return fmt.Sprintf("%d bps (%d bps discount applied)", bps, token.DiscountBps)
	}
	return fmt.Sprintf("%d bps", bps)
}
