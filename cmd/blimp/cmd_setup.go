package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/blimp/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Blimp Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Discord.Token = promptSecret(scanner, "Discord bot token", cfg.Discord.Token)
		cfg.Discord.GatewayURL = prompt(scanner, "Gateway URL", cfg.Discord.GatewayURL)

		intents := prompt(scanner, "Gateway intents", strconv.FormatInt(cfg.Discord.Intents, 10))
		if n, err := strconv.ParseInt(intents, 10, 64); err == nil {
			cfg.Discord.Intents = n
		}

		enabled := prompt(scanner, "Enable kudos (yes/no)", yesNo(cfg.Kudos.Enabled))
		cfg.Kudos.Enabled = strings.HasPrefix(strings.ToLower(enabled), "y")
		if cfg.Kudos.Enabled {
			cfg.Ledger.URL = prompt(scanner, "Ledger GraphQL URL", cfg.Ledger.URL)
			cfg.Ledger.APIKey = promptSecret(scanner, "Ledger API key", cfg.Ledger.APIKey)
		}

		maxAttempts := prompt(scanner, "Max reconnect attempts (0 = forever)", strconv.Itoa(cfg.Reconnect.MaxAttempts))
		if n, err := strconv.Atoi(maxAttempts); err == nil && n >= 0 {
			cfg.Reconnect.MaxAttempts = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		if err := cfg.Validate(); err != nil {
			fmt.Println("Warning:", err)
		}
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// promptSecret is prompt with the current value masked.
func promptSecret(scanner *bufio.Scanner, label, current string) string {
	shown := config.MaskValue(current)
	fmt.Print(label)
	if shown != "" {
		fmt.Printf(" [%s]", shown)
	}
	fmt.Print(": ")
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return current
}
