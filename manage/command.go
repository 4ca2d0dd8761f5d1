package manage

import (
	cli "github.com/urfave/cli/v3"
)

func ruleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "human readable rule `NAME`"},
		&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "`PATTERN` of page locations rule applies to, '*' matches anything"},
		&cli.StringFlag{Name: "selector", Aliases: []string{"s"}, Usage: "CSS `SELECTOR` of styled elements"},
		&cli.StringFlag{Name: "style", Usage: "CSS `DECLARATIONS` applied to selected elements"},
		&cli.StringFlag{Name: "style-file", Usage: "read declarations from `FILE`"},
	}
}

// Command returns "rules" command with all its subcommands. onUsageError is
// installed on every subcommand.
func Command(onUsageError cli.OnUsageErrorFunc) *cli.Command {
	return &cli.Command{
		Name:         "rules",
		Usage:        "Manages stored style rules",
		OnUsageError: onUsageError,
		Commands: []*cli.Command{
			{
				Name:         "list",
				Aliases:      []string{"ls"},
				Usage:        "Lists rules in natural name order",
				OnUsageError: onUsageError,
				Action:       List,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "list only rules applicable to page at `URL`"},
					&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "show full ids, selectors and creation time"},
				},
			},
			{
				Name:         "add",
				Usage:        "Adds new rule, prints its id",
				OnUsageError: onUsageError,
				Action:       Add,
				Flags: append(ruleFlags(),
					&cli.BoolFlag{Name: "disabled", Usage: "add rule in disabled state"},
				),
			},
			{
				Name:         "update",
				Usage:        "Changes fields of existing rule",
				OnUsageError: onUsageError,
				Action:       Update,
				Flags:        ruleFlags(),
				ArgsUsage:    "ID",
			},
			{
				Name:         "enable",
				Usage:        "Enables rules",
				OnUsageError: onUsageError,
				Action:       Enable(true),
				ArgsUsage:    "ID [ID...]",
			},
			{
				Name:         "disable",
				Usage:        "Disables rules, disabled rule still overrides styles of the same selector",
				OnUsageError: onUsageError,
				Action:       Enable(false),
				ArgsUsage:    "ID [ID...]",
			},
			{
				Name:         "rm",
				Usage:        "Removes rules",
				OnUsageError: onUsageError,
				Action:       Remove,
				ArgsUsage:    "ID [ID...]",
			},
			{
				Name:         "export",
				Usage:        "Exports rules (YAML)",
				OnUsageError: onUsageError,
				Action:       Export,
				ArgsUsage:    "[DESTINATION]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "split", Usage: "write every rule to its own file in `DIRECTORY`"},
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "overwrite existing files"},
				},
			},
			{
				Name:         "import",
				Usage:        "Imports rules (YAML), rules with known ids are replaced",
				OnUsageError: onUsageError,
				Action:       Import,
				ArgsUsage:    "FILE [FILE...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "replace", Usage: "discard all stored rules first"},
				},
			},
		},
	}
}
