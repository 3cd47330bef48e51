// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package orchestrate

import "errors"

// ErrUnsupportedDevice is returned by operations that require a specific
// endpoint Kind when the endpoint classifies as neither a PEX8112 bridge
// nor an OX16PCI954 UART.
var ErrUnsupportedDevice = errors.New("orchestrate: endpoint is neither a PEX8112 bridge nor an OX16PCI954 UART")
