/*
Copyright © 2025 Ken'ichiro Oyama <k1lowxb@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/k1LoW/vrt"
	"github.com/spf13/cobra"
)

var compareMaxDistance int

var compareCmd = &cobra.Command{
	Use:   "compare [IMAGE_A] [IMAGE_B]",
	Short: "compare two captures by perceptual hash",
	Long:  `compare two captures, local files or URLs, by perceptual hash distance.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger, closeLogger, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLogger()
		client := vrt.NewHTTPClient(logger)
		a, err := vrt.LoadImage(ctx, client, args[0])
		if err != nil {
			return err
		}
		b, err := vrt.LoadImage(ctx, client, args[1])
		if err != nil {
			return err
		}
		same, d, err := vrt.Equivalent(a.Image(), b.Image(), compareMaxDistance)
		if err != nil {
			return err
		}
		if !same {
			cmd.Printf("%s distance %d (%v, %v)\n", color.RedString("diff"), d, a.Image().Bounds().Size(), b.Image().Bounds().Size())
			return fmt.Errorf("images differ: distance %d, want less than %d", d, compareMaxDistance)
		}
		cmd.Printf("%s distance %d\n", color.GreenString("same"), d)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().IntVarP(&compareMaxDistance, "max-distance", "", vrt.DefaultMaxDistance, "perceptual hash distance below which images are the same")
}
