package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/musedev/muse/agent"
	"github.com/musedev/muse/chat"
	"github.com/musedev/muse/compress"
	"github.com/musedev/muse/config"
	"github.com/musedev/muse/errors"
	"github.com/musedev/muse/internal/mylog"
	"github.com/musedev/muse/llm"
	"github.com/musedev/muse/memory"
	"github.com/musedev/muse/tool"
)

func newRunCmd() *cobra.Command {
	var chatName string

	cmd := &cobra.Command{
		Use:   "run <task...>",
		Short: "Run one task through the agent and print the final answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildAgent()
			if err != nil {
				return errors.Wrapf(errors.ErrInit, "%v", err)
			}
			defer cleanup()

			if chatName != "" && chatName != agent.DefaultChatName {
				if err := a.SwitchChat(chatName); err != nil {
					if nerr := a.NewChat(chatName, ""); nerr != nil {
						return nerr
					}
				}
			}

			result, err := a.RunTask(cmd.Context(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}

			if result.TimedOut {
				fmt.Printf("cycle limit reached after %d cycles\nlast thought: %s\nlast observation: %s\n",
					result.Cycles, result.LastThought, result.LastObservation)
				return nil
			}

			fmt.Println(result.FinalAnswer)
			return nil
		},
	}

	cmd.Flags().StringVar(&chatName, "chat", "", "chat to run the task in (created when missing)")
	return cmd
}

func newChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List saved chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildAgent()
			if err != nil {
				return errors.Wrapf(errors.ErrInit, "%v", err)
			}
			defer cleanup()

			chats, err := a.ListSavedChats()
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Println("no saved chats")
				return nil
			}
			for _, meta := range chats {
				desc := ""
				if meta.Description != "" {
					desc = " — " + meta.Description
				}
				fmt.Printf("%s (%d messages, saved %s)%s\n",
					meta.Name, meta.MessagesCount, meta.LastSaved.Format("2006-01-02 15:04"), desc)
			}
			return nil
		},
	}
}

// buildAgent wires the process-wide handles: one model, one embedder, one
// agent. Construction failures are fatal (exit code 1 via main).
func buildAgent() (*agent.Agent, func(), error) {
	conf, err := config.NewRuntimeConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, logFile, err := mylog.NewFileLogger(conf.LogLevel, conf.LogsDir(), os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	agentConf, err := config.LoadAgentConfig(agentConfigPath)
	if err != nil {
		return nil, nil, err
	}

	model := llm.NewClient(&conf.ModelConfig)
	embedder := llm.NewOpenAIEmbedder(&conf.ModelConfig)
	estimator := llm.Estimator{}

	chats, err := chat.NewStore(conf.ChatsDir(), logger)
	if err != nil {
		return nil, nil, err
	}

	mem := memory.NewService(embedder, &conf.MemoryConfig, logger, conf.GlobalDir(), chats.MemoryDir)
	compressor := compress.New(model, estimator, logger)

	registry := tool.NewRegistryWithBuiltins(tool.Deps{
		Logger:    logger,
		Tools:     &conf.ToolConfig,
		FireCrawl: &conf.FireCrawlConfig,
		Embedder:  embedder,
	})

	a, err := agent.New(agent.Options{
		Logger:     logger,
		Model:      model,
		Tokenizer:  estimator,
		Registry:   registry,
		Memory:     mem,
		Compressor: compressor,
		Chats:      chats,
		Agent:      agentConf,
		MemoryConf: &conf.MemoryConfig,
		Window:     conf.ContextWindow,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = mem.Close()
		_ = logFile.Close()
	}
	return a, cleanup, nil
}
