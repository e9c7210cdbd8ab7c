// onlinestore 主程序
// 功能：库存台账、幂等下单、二级缓存商品目录、指标存储与告警引擎
// 子命令：serve 启动服务，migrate 建表，rules check 校验告警规则文件
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version 由构建时 -ldflags 注入
var Version = "dev"

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "onlinestore",
		Short:         "onlinestore order/inventory service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/onlinestore/config.toml", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(rulesCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
