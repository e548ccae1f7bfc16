package cli

import (
	"fmt"
	"os"
)

// Run dispatches a zwire subcommand and returns the process exit code.
func Run(args []string) int {
	if len(args) == 0 || hasHelpFlag(args) {
		printUsage()
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "upload":
		err = runUpload(rest)
	case "download":
		err = runDownload(rest)
	case "resume-upload":
		err = runResumeUpload(rest)
	case "resume-download":
		err = runResumeDownload(rest)
	case "upload-dir":
		err = runUploadDir(rest)
	case "list":
		err = runList(rest)
	case "mkdir":
		err = runMkdir(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "zwire: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: zwire <command> [flags] [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  upload <local-path> [remote-name]    upload one file")
	fmt.Fprintln(os.Stderr, "  download <remote-name> [dest-dir]    download one file")
	fmt.Fprintln(os.Stderr, "  resume-upload <local-path> [remote-name]")
	fmt.Fprintln(os.Stderr, "  resume-download <remote-name> <local-path>")
	fmt.Fprintln(os.Stderr, "  upload-dir <local-dir>               upload a directory tree")
	fmt.Fprintln(os.Stderr, "  list                                 list remote files")
	fmt.Fprintln(os.Stderr, "  mkdir <remote-path>                  create a remote directory")
	fmt.Fprintln(os.Stderr, "common flags: -server, -key, -timeout, -checksum, -workers,")
	fmt.Fprintln(os.Stderr, "  -chunk-retries, -backoff, -checkpoint-dir, -log-level, -config")
	fmt.Fprintln(os.Stderr, "credentials: ZWIRE_USER and ZWIRE_PASSWORD, prompted when unset")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
