// Command server runs the StudyOwl session sync daemon: the local
// companion process that owns chat session state for the front-end,
// mirrors it into an on-disk cache and keeps the cloud store converged.
package main
