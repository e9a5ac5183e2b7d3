/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import "google.golang.org/grpc/keepalive"

func keepaliveParams() keepalive.ClientParameters {
	return keepalive.ClientParameters{
		Time:                DefaultKeepaliveOptions.ClientInterval,
		Timeout:             DefaultKeepaliveOptions.ClientTimeout,
		PermitWithoutStream: DefaultKeepaliveOptions.ClientPermitWithoutStream,
	}
}
