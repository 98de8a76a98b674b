// Package config loads boardlink configuration.
//
// Settings come from three layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← BOARDLINK_LOOP_QUEUE_SIZE=64
//	├─────────────────────────────┤
//	│  2. Config File             │  ← boardlink.toml, with @include
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Default()
//	└─────────────────────────────┘
//
// File and environment layers are loaded into maps by package loader,
// merged, and decoded onto the defaults. Unknown keys are rejected.
package config
