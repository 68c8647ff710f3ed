package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/Inflectra/spira-gitlab-datasync/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
