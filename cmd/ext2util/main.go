package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	commandInit()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(errorStatusCode)
	}
}

func init() {
	logrus.SetLevel(logrus.TraceLevel)
}
