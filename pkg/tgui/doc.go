// Package tgui holds small helpers for Telegram HTML texts and inline
// callback data ("plugin:action:payload").
package tgui
