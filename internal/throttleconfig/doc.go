/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttleconfig contains value types shared by throttling configuration.
package throttleconfig
