// Package cli implements the backy command-line interface.
//
// Each cobra command loads the config, builds the collaborators it needs
// through loadApp and hands off to the orchestrator or scheduler:
//
//	backy exec <command>...  - run commands once, in order
//	backy run <list>...      - run command lists concurrently
//	backy cron               - arm every list with a cron schedule
//	backy list               - show declared commands and lists
//	backy hosts [host]...    - show resolved hosts, optionally probing them
//
// The process exit status is zero only when everything that ran succeeded.
package cli
