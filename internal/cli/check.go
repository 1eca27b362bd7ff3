package cli

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "执行一次金价检查并打印摘要",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context())
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "手动触发每日金价摘要推送",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Digest(cmd.Context())
	},
}
