// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, tester.toml by default")
	RootCmd.PersistentFlags().String("log_level", "warn", "debug, info, warn or error")
	RootCmd.PersistentFlags().Bool("print_result", false, "print the result rows")
	RootCmd.PersistentFlags().Bool("print_stats", true, "print the step tree")
	viper.BindPFlag("debug.logLevel", RootCmd.PersistentFlags().Lookup("log_level"))
	viper.BindPFlag("debug.printResult", RootCmd.PersistentFlags().Lookup("print_result"))
	viper.BindPFlag("debug.printStats", RootCmd.PersistentFlags().Lookup("print_stats"))
	initJoinCmd()
	initOrderByCmd()
}

var testerCfg = util.DefaultConfig()

var cfgFile string

///root cmd

var info = "run join and order by workloads on generated rows"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

func initDebugOptions() error {
	testerCfg.Debug.LogLevel = viper.GetString("debug.logLevel")
	testerCfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	testerCfg.Debug.PrintStats = viper.GetBool("debug.printStats")
	return util.InitLogger(testerCfg.Debug.LogLevel)
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "tester.toml"

// loadConfig decodes the first tester.toml found. Flags set on the command
// line win over the file.
func loadConfig() {
	paths := []string{cfgFile}
	if cfgFile == "" {
		paths = paths[:0]
		for _, dirPath := range defCfgFilePaths {
			paths = append(paths, filepath.Join(dirPath, cfgFileName))
		}
	}
	for _, fpath := range paths {
		if !util.FileIsValid(fpath) {
			continue
		}
		cfg, err := util.LoadConfig(fpath)
		if err != nil {
			util.Error("load config file failed",
				zap.String("fpath", fpath),
				zap.Error(err))
			continue
		}
		viper.SetConfigFile(fpath)
		if err = viper.ReadInConfig(); err != nil {
			util.Error("viper load config file failed",
				zap.String("fpath", fpath),
				zap.Error(err))
			continue
		}
		testerCfg = cfg
		return
	}
	if cfgFile != "" {
		util.Error("config file does not exist", zap.String("fpath", cfgFile))
		os.Exit(1)
	}
	util.Info("tester.toml does not exist, running with defaults")
}

func main() {
	defer util.Sync()
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
