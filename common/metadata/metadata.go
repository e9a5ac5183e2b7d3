/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metadata

// Variables passed in with ldflags at build time
var (
	Version   = "latest"
	CommitSHA = "development build"
)
