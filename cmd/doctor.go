package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/k1LoW/vrt/config"
	"github.com/k1LoW/vrt/driver/cdpdriver"
	"github.com/spf13/cobra"
)

const doctorTimeout = 30 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check vrt environment and configuration",
	Long:  `Check vrt environment and configuration to ensure everything is set up correctly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
		defer cancel()

		// Color setup
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		yellow := color.New(color.FgYellow)
		bold := color.New(color.Bold)

		allOK := true

		// 1. Check the browser
		cmd.Print("🔍 Checking Chrome ... ")

		browserCtx, cancelBrowser := cdpdriver.NewContext(ctx, true)
		defer cancelBrowser()
		if err := cdpdriver.Start(browserCtx); err != nil {
			red.Println("✗ NOT STARTED")
			cmd.Printf("   Error starting Chrome: %v\n", err)
			allOK = false
		} else {
			info, err := cdpdriver.New(browserCtx).Info(ctx)
			if err != nil {
				red.Println("✗ NO VERSION")
				cmd.Printf("   Error reading browser version: %v\n", err)
				allOK = false
			} else {
				green.Println("✓ OK")
				cmd.Printf("   Browser: %s %d\n", info.BrowserName, info.BrowserVersion)
			}
		}

		if !allOK {
			cmd.Println()
			showSetupHelp(cmd)
			return nil
		}

		// 2. Check the state directory
		cmd.Print("📁 Checking state directory ... ")

		if err := os.MkdirAll(config.StateHomePath(), 0o700); err != nil {
			red.Println("✗ NOT WRITABLE")
			cmd.Printf("   Error creating %s: %v\n", config.StateHomePath(), err)
			allOK = false
		} else {
			green.Println("✓ OK")
			cmd.Printf("   Logs and error reports: %s\n", config.StateHomePath())
		}

		// 3. Check configuration file (optional)
		cmd.Print("🔧 Checking configuration file ... ")

		if _, err := config.Load(profile); err != nil {
			yellow.Println("⚠️ CONFIG ERROR")
			cmd.Printf("   Error loading config: %v\n", err)
			allOK = false
		} else {
			green.Println("✓ OK")
			cmd.Println("   Configuration loaded successfully")
		}

		// Final message
		cmd.Println()
		if allOK {
			bold.Printf("🎉 ")
			green.Print("All checks passed! You are ready to use vrt")
			bold.Println(".")
			cmd.Println()
			cmd.Println("Try capturing a page:")
			yellow.Println("  vrt capture --fully https://example.com")
		} else {
			red.Println("⚠️  Setup is incomplete.")
			cmd.Println("\nPlease fix the issues above to use vrt properly.")
		}

		return nil
	},
}

func showSetupHelp(cmd *cobra.Command) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	bold.Println("📚 Setup Guide")
	cmd.Println()
	cmd.Println("vrt drives a local Chrome or Chromium over the DevTools protocol.")
	cmd.Println()
	bold.Print("1. ")
	cmd.Println("Install Google Chrome or Chromium")
	cyan.Println("   https://www.google.com/chrome/")
	cmd.Println()
	bold.Print("2. ")
	cmd.Println("Make sure the browser binary is on your PATH, for example as google-chrome or chromium")
	cmd.Println()
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
