// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Command docker-healthcheck probes the /ping endpoint of the mock processing API and exits
// non-zero unless it answers "pong".
package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const mockURL = "http://127.0.0.1:9180/ping"

var errNoPong = errors.New("unexpected health check answer")

func main() {
	pflag.StringP("url", "u", mockURL, "Health check URL of the mock API")
	pflag.BoolP("verbose", "v", false, "Be verbose")
	pflag.BoolP("tls-skip-verify", "t", false, "Skip TLS server certificate verification")
	pflag.DurationP("timeout", "T", 10*time.Second, "Request timeout")
	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)

	verbose := viper.GetBool("verbose")
	url := viper.GetString("url")

	if verbose {
		fmt.Println("Checking", url)
	}

	if err := check(newClient(viper.GetBool("tls-skip-verify"), viper.GetDuration("timeout")), url); err != nil {
		if verbose {
			fmt.Println("Test FAILED:", err)
		}

		os.Exit(1)
	}

	if verbose {
		fmt.Println("Test OK")
	}
}

func newClient(skipVerify bool, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: skipVerify},
		},
	}
}

// check succeeds when url answers 200 with the body "pong".
func check(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errNoPong, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}

	if strings.ToLower(strings.TrimSpace(string(content))) != "pong" {
		return fmt.Errorf("%w: %q", errNoPong, content)
	}

	return nil
}
