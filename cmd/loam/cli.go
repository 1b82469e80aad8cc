package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/loamdev/loam/internal/api"
	"github.com/loamdev/loam/internal/config"
	"github.com/loamdev/loam/internal/engine"
	"github.com/loamdev/loam/internal/entity"
	"github.com/loamdev/loam/internal/errors"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(eng *engine.Engine, cfg *config.Config, baseDir string) *cli.App {
	app := &cli.App{
		Name:    "loam",
		Usage:   "Local-first chat data cache",
		Version: Version,
		Commands: []*cli.Command{
			threadsCmd(eng),
			messagesCmd(eng),
			sendCmd(eng),
			renameCmd(eng),
			pinCmd(eng),
			tagsCmd(eng),
			assignCmd(eng),
			branchCmd(eng),
			deleteCmd(eng),
			projectsCmd(eng),
			projectCreateCmd(eng),
			projectUpdateCmd(eng),
			projectDeleteCmd(eng),
			statusCmd(eng),
			exportCmd(eng, baseDir),
			importCmd(eng),
			serveCmd(eng, cfg, baseDir),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// threadsCmd creates the threads command.
func threadsCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "threads",
		Usage: "List cached threads, optionally refreshing from the remote first",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "Run the two-phase remote load before listing"},
			&cli.BoolFlag{Name: "more", Usage: "Fetch the next regular page before listing"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("refresh") {
				if _, err := eng.LoadThreads(c.Context); err != nil {
					return outputError(err)
				}
			}
			if c.Bool("more") {
				if _, err := eng.LoadMoreThreads(c.Context); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(map[string]any{
				"threads":  eng.Threads(),
				"has_more": eng.HasMoreThreads(),
			})
		},
	}
}

// messagesCmd creates the messages command.
func messagesCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "messages",
		Usage:     "List the messages of a thread",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "Fetch from the remote before listing"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("thread id is required"))
			}
			if c.Bool("refresh") {
				if _, err := eng.LoadMessages(c.Context, id); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(map[string]any{
				"thread_id": id,
				"messages":  eng.Messages(id),
			})
		},
	}
}

// sendCmd creates the send command.
func sendCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Append a message to a thread (reads content from stdin unless --content is given)",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "Message content"},
			&cli.StringFlag{Name: "role", Value: "user", Usage: "Message role: user|assistant|system"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Author user id"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				id = entity.MustNewID()
			}

			content := c.String("content")
			if content == "" {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("content must be piped via stdin or passed with --content"))
				}
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				content = text
			}

			msg, err := eng.AppendMessage(c.Context, id, c.String("user"), entity.Role(c.String("role")), content, nil)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(msg)
		},
	}
}

// renameCmd creates the rename command.
func renameCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Rename a thread",
		ArgsUsage: "<thread-id> <title>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: loam rename <thread-id> <title>"))
			}
			th, err := eng.RenameThread(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(th)
		},
	}
}

// pinCmd creates the pin command.
func pinCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "pin",
		Usage:     "Pin a thread so it is always loaded in full",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "unpin", Usage: "Remove the pin instead"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("thread id is required"))
			}
			th, err := eng.SetThreadPinned(c.Context, id, !c.Bool("unpin"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(th)
		},
	}
}

// tagsCmd creates the tags command.
func tagsCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "tags",
		Usage:     "Replace a thread's tags",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags (empty clears)"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("thread id is required"))
			}
			th, err := eng.SetThreadTags(c.Context, id, parseTags(c.String("tags")))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(th)
		},
	}
}

// assignCmd creates the assign command.
func assignCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "assign",
		Usage:     "Assign a thread to a project, or detach it",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Target project id"},
			&cli.BoolFlag{Name: "detach", Usage: "Clear the thread's project"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("thread id is required"))
			}
			var target *string
			if p := c.String("project"); p != "" && !c.Bool("detach") {
				target = &p
			}
			th, err := eng.AssignThreadProject(c.Context, id, target)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(th)
		},
	}
}

// branchCmd creates the branch command.
func branchCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "branch",
		Usage:     "Branch a thread into an independent copy of its history",
		ArgsUsage: "<thread-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Title for the branch (defaults to the source title)"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("thread id is required"))
			}
			branch, err := eng.BranchThread(c.Context, id, c.String("title"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(branch)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a thread and its messages everywhere",
		ArgsUsage: "<thread-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("thread id is required"))
			}
			if err := eng.DeleteThread(c.Context, id); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"deleted": id})
		},
	}
}

// projectsCmd creates the projects command.
func projectsCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "List projects",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "Fetch from the remote before listing"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("refresh") {
				if _, err := eng.LoadProjects(c.Context); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(map[string]any{"projects": eng.Projects()})
		},
	}
}

// projectCreateCmd creates the project-create command.
func projectCreateCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "project-create",
		Usage: "Create a project",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Project name"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Project description"},
			&cli.StringFlag{Name: "prompt", Usage: "Custom prompt applied to the project's threads"},
			&cli.StringFlag{Name: "owner", Usage: "Owner user id"},
		},
		Action: func(c *cli.Context) error {
			p, err := eng.CreateProject(c.Context, c.String("name"),
				optString(c, "description"), optString(c, "prompt"), c.String("owner"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(p)
		},
	}
}

// projectUpdateCmd creates the project-update command.
func projectUpdateCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "project-update",
		Usage:     "Update a project's name, description, or prompt",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New name"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "New description"},
			&cli.StringFlag{Name: "prompt", Usage: "New prompt"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("project id is required"))
			}
			p, err := eng.UpdateProject(c.Context, id,
				optString(c, "name"), optString(c, "description"), optString(c, "prompt"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(p)
		},
	}
}

// projectDeleteCmd creates the project-delete command.
func projectDeleteCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "project-delete",
		Usage:     "Delete a project, detaching or reassigning its threads",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reassign-to", Usage: "Move the project's threads to this project instead of detaching"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return outputError(errors.NewInvalidRequest("project id is required"))
			}
			var reassign *string
			if to := c.String("reassign-to"); to != "" {
				reassign = &to
			}
			if err := eng.DeleteProject(c.Context, id, reassign); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"deleted": id})
		},
	}
}

// statusCmd creates the status command.
func statusCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show cache counts, pagination state, and diverged entities",
		Action: func(c *cli.Context) error {
			return outputJSON(eng.Status())
		},
	}
}

// exportCmd creates the export command.
func exportCmd(eng *engine.Engine, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export cached documents to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.loam/exports/<scope>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "Export a single thread instead of everything"},
		},
		Action: func(c *cli.Context) error {
			input := engine.ExportInput{Path: c.String("path")}
			if threadID := c.String("thread"); threadID != "" {
				input.ThreadID = &threadID
			}
			out, err := eng.Export(c.Context, baseDir, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// importCmd creates the import command.
func importCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import documents from a JSONL export file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace|skip"},
		},
		Action: func(c *cli.Context) error {
			out, err := eng.Import(c.Context, engine.ImportInput{
				Path: c.String("path"),
				Mode: engine.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(eng *engine.Engine, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with the server-sent-events stream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 8737, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			srv := api.NewServer(eng, baseDir, Version, c.String("bind"), c.Int("port"))
			return api.Run(srv)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if loamErr, ok := err.(*errors.LoamError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", loamErr.Code, loamErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// optString returns a pointer to the flag value only when the flag was set.
func optString(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseTags splits a comma-separated string into a slice of tags.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
