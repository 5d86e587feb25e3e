// Package asm is a single pass macro assembler for the real-mode x86
// instructions the emulator executes.
//
// Source is line based. Each line holds optional labels ('name:'), then a
// directive or a mnemonic with comma separated operands. A ';' starts a
// comment.
//
// Directives:
//
//	org VALUE          ; set the offset of the next byte
//	[BITS 16|32]       ; select the code size
//	.equ NAME VALUE    ; define an equate
//	.macro NAME ARG... ; begin a macro, ended by .endm
//
// Values may be numbers, characters ('x'), equates, labels, or a
// $(expression) evaluated at assembly time.
package asm
