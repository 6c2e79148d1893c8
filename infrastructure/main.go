package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/zone"
)

func main() {
	pulumi.Run(zone.Program)
}
