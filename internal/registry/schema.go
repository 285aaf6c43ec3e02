package registry

// toolConfigSchemaJSON is the strict JSON Schema every tool configuration
// document must satisfy. additionalProperties: false rejects unknown
// top-level fields the way the original Rust configuration's
// deny_unknown_fields attribute did, so a typo'd field name fails loudly
// instead of being silently ignored.
const toolConfigSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "description", "command"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "command": {"type": "string", "minLength": 1},
    "subcommand": {"type": "array", "items": {"$ref": "#/$defs/subcommand"}},
    "input_schema": {"type": "object"},
    "timeout_seconds": {"type": "integer", "minimum": 0},
    "force_synchronous": {"type": "boolean"},
    "hints": {"$ref": "#/$defs/hints"},
    "enabled": {"type": "boolean"},
    "guidance_key": {"type": "string"},
    "sequence": {"type": "array", "items": {"$ref": "#/$defs/sequence_step"}},
    "step_delay_ms": {"type": "integer", "minimum": 0},
    "availability_check": {"$ref": "#/$defs/availability_check"},
    "install_instructions": {"type": "string"}
  },
  "$defs": {
    "subcommand": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "description"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "subcommand": {"type": "array", "items": {"$ref": "#/$defs/subcommand"}},
        "options": {"type": "array", "items": {"$ref": "#/$defs/option"}},
        "positional_args": {"type": "array", "items": {"$ref": "#/$defs/option"}},
        "positional_args_first": {"type": "boolean"},
        "timeout_seconds": {"type": "integer", "minimum": 0},
        "force_synchronous": {"type": "boolean"},
        "enabled": {"type": "boolean"},
        "guidance_key": {"type": "string"},
        "sequence": {"type": "array", "items": {"$ref": "#/$defs/sequence_step"}},
        "step_delay_ms": {"type": "integer", "minimum": 0},
        "availability_check": {"$ref": "#/$defs/availability_check"},
        "install_instructions": {"type": "string"}
      }
    },
    "option": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "type"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "description": {"type": "string"},
        "required": {"type": "boolean"},
        "format": {"type": "string"},
        "items": {
          "type": "object",
          "additionalProperties": false,
          "required": ["type"],
          "properties": {
            "type": {"type": "string"},
            "format": {"type": "string"},
            "description": {"type": "string"}
          }
        },
        "file_arg": {"type": "boolean"},
        "file_flag": {"type": "string"},
        "alias": {"type": "string"}
      }
    },
    "hints": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "build": {"type": "string"},
        "test": {"type": "string"},
        "dependencies": {"type": "string"},
        "clean": {"type": "string"},
        "run": {"type": "string"},
        "custom": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "sequence_step": {
      "type": "object",
      "additionalProperties": false,
      "required": ["tool", "subcommand"],
      "properties": {
        "tool": {"type": "string", "minLength": 1},
        "subcommand": {"type": "string", "minLength": 1},
        "args": {"type": "object"},
        "description": {"type": "string"}
      }
    },
    "availability_check": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "command": {"type": "string"},
        "args": {"type": "array", "items": {"type": "string"}},
        "working_directory": {"type": "string"},
        "success_exit_codes": {"type": "array", "items": {"type": "integer"}},
        "skip_subcommand_args": {"type": "boolean"}
      }
    }
  }
}`
