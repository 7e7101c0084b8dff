// Command sftpd runs the SFTP session engine over an SSH transport.
package main

import (
	"fmt"
	"os"

	"github.com/nimbusfs/sftpd/cmd/sftpd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
