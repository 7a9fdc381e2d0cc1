// Package app composes the studio services into a running application.
//
// # Architecture Role
//
// The app package sits above the storage and service layers and wires them
// together: it builds every service from a Stores bundle, registers the
// background workers (generation dispatcher, maintenance sweeper) with the
// lifecycle manager and exposes the composed Application to the HTTP layer.
// It holds no business logic of its own.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── project/        # Projects
//	│   ├── script/         # Scripts, shots and shot bindings
//	│   ├── library/        # Reusable character/scene/prop entities
//	│   ├── reference/      # Project-level entity references
//	│   ├── asset/          # Assets and their generated versions
//	│   ├── job/            # Generation jobs
//	│   └── wallet/         # Points accounts and ledger entries
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (UserStore, ReferenceStore, ...)
//	│   ├── memory/         # In-memory implementation for tests
//	│   └── postgres/       # Postgres implementation
//	├── services/           # Business logic, one package per concern
//	├── httpapi/            # REST handlers and the websocket event hub
//	├── metrics/            # Prometheus registry and collectors
//	└── system/             # Lifecycle management for background services
package app
