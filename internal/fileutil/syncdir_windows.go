/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fileutil

// SyncDir does nothing on windows, where directories cannot be fsynced.
func SyncDir(string) error {
	return nil
}
